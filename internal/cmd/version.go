package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	name := "goscour"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		name = identity.BinaryName
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s %s\n", name, versionInfo.Version)
	_, _ = fmt.Fprintf(out, "  commit:     %s\n", versionInfo.Commit)
	_, _ = fmt.Fprintf(out, "  built:      %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
	_, _ = fmt.Fprintf(out, "  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)

	v := crucible.GetVersion()
	if v.Gofulmen != "" {
		_, _ = fmt.Fprintf(out, "  gofulmen:   v%s\n", v.Gofulmen)
	}
	if v.Crucible != "" {
		_, _ = fmt.Fprintf(out, "  crucible:   v%s\n", v.Crucible)
	}
}
