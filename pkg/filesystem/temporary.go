package filesystem

const (
	// TemporaryNamePrefix is the file name prefix used for all temporary files
	// and directories created by bor. Using this prefix guarantees that any
	// such entries are trivially distinguishable from managed content.
	TemporaryNamePrefix = ".bor-temporary-"
)
