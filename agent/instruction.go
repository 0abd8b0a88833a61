package agent

import "github.com/hupe1980/recallmesh/core"

// Provider supplies instruction text at run time, for example derived from
// session state.
type Provider interface {
	Instruction(runCtx *core.RunContext) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(runCtx *core.RunContext) (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction(runCtx *core.RunContext) (string, error) { return f(runCtx) }

// Instruction is either static text or a dynamic provider. Static text may
// reference state with {key} placeholders; the flow renders them after
// resolution.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates a static instruction.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates a dynamic instruction.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates a dynamic instruction from fn.
func NewInstructionFromFunc(fn func(runCtx *core.RunContext) (string, error)) Instruction {
	return Instruction{provider: ProviderFunc(fn)}
}

// IsStatic reports whether the instruction is plain text.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, calling the provider if present.
func (i Instruction) Resolve(runCtx *core.RunContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(runCtx)
	}

	return i.text, nil
}
