package cli

import "github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"

// Directory paths - re-exported from paths package for convenience
const (
	CtxmeterDir     = paths.CtxmeterDir
	ContextStateDir = paths.ContextStateDir
	JournalDir      = paths.JournalDir
	CtxmeterTmpDir  = paths.TmpDir
)
