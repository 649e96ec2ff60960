package flags

import "github.com/urfave/cli/v2"

const (
	MempoolCategory    = "MEMPOOL"
	ReputationCategory = "REPUTATION"
	ValidationCategory = "VALIDATION"
	ProviderCategory   = "CHAIN PROVIDER"
	APICategory        = "API AND CONSOLE"
	LoggingCategory    = "LOGGING AND DEBUGGING"
	MiscCategory       = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
