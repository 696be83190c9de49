// Command dkrimport pulls a v1-registry image into a tree of btrfs
// subvolumes, one per layer, the way the teacher's dlrootfs pulled a flat
// rootfs directory.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rmonjo/dkrimport/internal/btrfs"
	"github.com/rmonjo/dkrimport/internal/extract"
	"github.com/rmonjo/dkrimport/internal/pull"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dkrimport",
		Short: "Pull a v1 Docker registry image into btrfs subvolume layers",
	}
	root.AddCommand(newPullCmd())
	return root
}

func newPullCmd() *cobra.Command {
	var (
		root   string
		local  string
		force  bool
		index  string
		verify bool
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "pull <name>[:<tag>]",
		Short: "Pull an image and materialize it as a chain of btrfs snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, tag := splitNameTag(args[0])

			logger := logrus.StandardLogger()
			if debug {
				logger.SetLevel(logrus.DebugLevel)
			}

			snap, err := btrfs.New()
			if err != nil {
				return fmt.Errorf("resolving btrfs binary: %w", err)
			}

			opts := pull.Options{
				IndexURL:     index,
				ImageRoot:    root,
				Snapshotter:  snap,
				Extractor:    &extract.Tar{},
				VerifyTarsum: verify,
				Logger:       logger,
				Notify: func(percent int) {
					fmt.Fprintf(cmd.OutOrStdout(), "\r%s:%s %3d%%", name, tag, percent)
					if percent == 100 {
						fmt.Fprintln(cmd.OutOrStdout())
					}
				},
			}

			done := make(chan *pull.Error, 1)
			p, err := pull.New(opts, func(_ *pull.Pull, pullErr *pull.Error) {
				done <- pullErr
			})
			if err != nil {
				return err
			}

			if err := p.Start(name, tag, local, force); err != nil {
				return err
			}

			if pullErr := <-done; pullErr != nil {
				return pullErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s pulled into %s\n", name, tag, root)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "./dkr-images", "directory holding materialized layer subvolumes")
	cmd.Flags().StringVar(&local, "local", "", "name a local alias subvolume for the pulled image's tip layer")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing local alias")
	cmd.Flags().StringVar(&index, "index", "https://index.docker.io", "registry index URL")
	cmd.Flags().BoolVar(&verify, "verify-tarsum", false, "compute and log a tarsum for every materialized layer")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

// splitNameTag mirrors the teacher's dlrootfs "name:tag" splitting, but
// leaves tag empty (rather than defaulting here) so grammar.Tag applies the
// single default.
func splitNameTag(arg string) (name, tag string) {
	for i := len(arg) - 1; i >= 0; i-- {
		switch arg[i] {
		case ':':
			return arg[:i], arg[i+1:]
		case '/':
			return arg, ""
		}
	}
	return arg, ""
}
