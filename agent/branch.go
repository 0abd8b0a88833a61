package agent

// buildBranchPath appends child to the dotted branch path parent.
func buildBranchPath(parent, child string) string {
	switch {
	case parent == "":
		return child
	case child == "":
		return parent
	default:
		return parent + "." + child
	}
}
