package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/feedkit/feedkit/fake"
)

// FakeMain is wrapped by NewFakeCommand and only exported for testing purposes.
var FakeMain *fake.Main

// NewFakeCommand returns a new cobra command wrapping FakeMain.
func NewFakeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var err error
	FakeMain = fake.NewMain()
	fakeCommand := &cobra.Command{
		Use:   "fake",
		Short: "fake - collect generated candidates for demos and smoke tests",
		Long:  `TODO`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			err = FakeMain.Run()
			if err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := fakeCommand.Flags()
	err = commandeer.Flags(flags, FakeMain)
	if err != nil {
		panic(err)
	}
	return fakeCommand
}

func init() {
	subcommandFns["fake"] = NewFakeCommand
}
