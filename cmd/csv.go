package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/feedkit/feedkit/csv"
)

// CSVMain is wrapped by NewCSVCommand and only exported for testing purposes.
var CSVMain *csv.Main

// NewCSVCommand returns a new cobra command wrapping CSVMain.
func NewCSVCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	CSVMain = csv.NewMain()
	csvCommand := &cobra.Command{
		Use:   "csv",
		Short: "csv - collect headered csv files into record storage",
		Long:  `TODO`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = CSVMain.Run()
			if err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := csvCommand.Flags()
	err = commandeer.Flags(flags, CSVMain)
	if err != nil {
		panic(err)
	}
	return csvCommand
}

func init() {
	subcommandFns["csv"] = NewCSVCommand
}
