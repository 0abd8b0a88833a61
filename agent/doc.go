// Package agent provides the agents a runner drives:
//
//   - ModelAgent answers with a language model, calling tools and
//     transferring to sub-agents on request.
//   - SequentialAgent runs children in order on the shared run context.
//   - ParallelAgent runs children concurrently on isolated branches.
//   - FanOutFanIn runs a ParallelAgent, checks that every output slot is
//     populated, then runs an aggregator over the slots.
//
// Custom agents embed BaseAgent, call Init in their constructor and
// implement Run. Composite agents start children through RunChild so
// observers and tracing see every agent run.
package agent
