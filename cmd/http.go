package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/feedkit/feedkit/http"
)

// HTTPMain is wrapped by NewHTTPCommand and only exported for testing purposes.
var HTTPMain *http.Main

// NewHTTPCommand returns a new cobra command wrapping HTTPMain.
func NewHTTPCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	HTTPMain = http.NewMain()
	httpCommand := &cobra.Command{
		Use:   "http",
		Short: "http - collect a paginated json endpoint into record storage",
		Long:  `TODO`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = HTTPMain.Run()
			if err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := httpCommand.Flags()
	err = commandeer.Flags(flags, HTTPMain)
	if err != nil {
		panic(err)
	}
	return httpCommand
}

func init() {
	subcommandFns["http"] = NewHTTPCommand
}
