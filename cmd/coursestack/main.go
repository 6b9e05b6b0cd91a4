package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/spf13/cobra"
)

func main() {
	sc := &stackCli{}
	root := newRootCmd(sc)
	err := root.Execute()
	if err == nil {
		return
	}
	if sc.common.JsonLog {
		if werr := engine_errs.WriteJSON(engine_errs.Extract(err), os.Stderr); werr != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	} else {
		for _, e := range engine_errs.Extract(err) {
			fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), e)
		}
	}
	os.Exit(engine_errs.ExitCode(err))
}

func newRootCmd(sc *stackCli) *cobra.Command {
	root := &cobra.Command{
		Use:           "coursestack",
		Short:         "Provision the free courses service on AWS",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	sc.AddStackCli(root)
	return root
}
