// cmd/sos/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"sos/internal/config"
	"sos/internal/content"
	"sos/internal/logging"
	"sos/internal/merge"
	"sos/internal/parcel"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    *config.Config
	base   *logging.Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sos",
	Short: "sos is an offline version control system",
	Long: `sos keeps branches and revisions of a working tree in a local metadata
folder, independent of any other version control system in the same directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Path())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.LogLevel = "debug"
		}
		base, err = logging.NewLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = base.Logger
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	var offlineCmd = &cobra.Command{
		Use:   "offline [name]",
		Short: "Start offline versioning of the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			flags := cfg.Defaults
			if v, _ := cmd.Flags().GetBool("strict"); v {
				flags.Strict = true
			}
			if v, _ := cmd.Flags().GetBool("compress"); v {
				flags.Compress = true
			}
			if v, _ := cmd.Flags().GetBool("track"); v {
				flags.Track = true
			}
			if v, _ := cmd.Flags().GetString("backend"); v != "" {
				flags.Backend = v
			}
			tracked, _ := cmd.Flags().GetStringSlice("pattern")

			p, err := parcel.Offline(dir, name, parcel.OfflineOptions{Flags: flags, Tracked: tracked}, cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			fmt.Println("Offline repository created in", p.Root)
			return nil
		},
	}
	offlineCmd.Flags().Bool("strict", false, "Always compare file contents, never trust modification times")
	offlineCmd.Flags().Bool("compress", false, "Compress stored file contents")
	offlineCmd.Flags().Bool("track", false, "Only version files matching tracking patterns")
	offlineCmd.Flags().String("backend", "", "Metadata backend (file, badger)")
	offlineCmd.Flags().StringSliceP("pattern", "p", nil, "Initial tracking pattern (with --track)")

	var branchCmd = &cobra.Command{
		Use:   "branch [name]",
		Short: "Create a branch from the working tree and switch to it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			fromRevision, _ := cmd.Flags().GetBool("last")
			branch, err := p.Branch(name, parcel.BranchOptions{FromRevision: fromRevision})
			if err != nil {
				return err
			}
			fmt.Printf("Created branch %d and switched to it\n", branch)
			return nil
		},
	}
	branchCmd.Flags().Bool("last", false, "Branch off the last committed revision instead of the working tree")

	var switchCmd = &cobra.Command{
		Use:   "switch <ref>",
		Short: "Replace the working tree with a branch or revision",
		Long: `Ref is "R" for a revision of the current branch, "B/" for the latest revision
of a branch or "B/R" for a revision of a branch. Branches are given by name or
number, negative revisions count back from the latest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			force, _ := cmd.Flags().GetBool("force")
			if err := p.Switch(args[0], parcel.SwitchOptions{Force: force}); err != nil {
				return err
			}
			fmt.Printf("Switched to branch %d, revision %d\n", p.Meta.Branch, p.Meta.Commit)
			return nil
		},
	}
	switchCmd.Flags().BoolP("force", "f", false, "Discard local changes")

	var updateCmd = &cobra.Command{
		Use:   "update [ref]",
		Short: "Merge a branch or revision into the working tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			opValue, _ := cmd.Flags().GetString("operation")
			op, err := merge.ParseOperation(opValue)
			if err != nil {
				return err
			}
			resValue, _ := cmd.Flags().GetString("resolve")
			res, err := merge.ParseResolution(resValue)
			if err != nil {
				return err
			}

			result, err := p.Update(refArg(args), parcel.UpdateOptions{
				Operation:  op,
				Resolution: res,
				Ask:        askConflict(bufio.NewReader(os.Stdin)),
			})
			if err != nil {
				return err
			}
			printPaths(color.New(color.FgGreen), "ADD", result.Added)
			printPaths(color.New(color.FgRed), "DEL", result.Removed)
			printPaths(color.New(color.FgYellow), "MRG", result.Merged)
			return nil
		},
	}
	updateCmd.Flags().StringP("operation", "o", "both", "Merge operation (insert, remove, both)")
	updateCmd.Flags().StringP("resolve", "r", "ask", "Conflict resolution (ask, theirs, mine, next)")

	var commitCmd = &cobra.Command{
		Use:   "commit [message]",
		Short: "Record the working tree as the next revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			message := ""
			if len(args) > 0 {
				message = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			revision, err := p.Commit(message, parcel.CommitOptions{Force: force})
			if err != nil {
				return err
			}
			fmt.Printf("Committed revision %d on branch %d\n", revision, p.Meta.Branch)
			return nil
		},
	}
	commitCmd.Flags().BoolP("force", "f", false, "Commit even if nothing changed")

	var deleteCmd = &cobra.Command{
		Use:   "delete <branch>",
		Short: "Delete a branch and its stored revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted branch", args[0])
			return nil
		},
	}

	var changesCmd = &cobra.Command{
		Use:   "changes [ref]",
		Short: "List files changed since a revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
				defer stop()
				fmt.Println("Watching for changes, press Ctrl+C to stop")
				return p.Watch(ctx, func(changes content.ChangeSet) {
					fmt.Println(color.New(color.Faint).Sprint(time.Now().Format(time.Kitchen)))
					printChanges(changes)
				})
			}

			changes, err := p.Changes(refArg(args))
			if err != nil {
				return err
			}
			if changes.Empty() {
				fmt.Println("No changes")
				return nil
			}
			printChanges(changes)
			return nil
		},
	}
	changesCmd.Flags().BoolP("watch", "w", false, "Keep reporting changes as files are modified")

	var diffCmd = &cobra.Command{
		Use:   "diff [ref]",
		Short: "Show line differences against a revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			contextLines, _ := cmd.Flags().GetInt("context")
			report, err := p.Diff(refArg(args), contextLines)
			if err != nil {
				return err
			}
			if len(report.Files) == 0 {
				fmt.Println("No changes")
				return nil
			}
			printColoredDiff(report.Format())
			return nil
		},
	}
	diffCmd.Flags().IntP("context", "c", 3, "Number of context lines")

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "List the revisions of the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			header := color.New(color.FgYellow)
			for _, c := range p.Log() {
				message := ""
				if c.Message != nil {
					message = *c.Message
				}
				marker := " "
				if c.Number == p.Meta.Commit {
					marker = "*"
				}
				header.Printf("%s r%02d ", marker, c.Number)
				fmt.Printf("%s  %s\n", time.UnixMilli(c.CTime).Format(time.DateTime), message)
			}
			return nil
		},
	}

	var branchesCmd = &cobra.Command{
		Use:   "branches",
		Short: "List all branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			active := color.New(color.FgGreen, color.Bold)
			for _, b := range p.Branches() {
				line := fmt.Sprintf("b%02d %-20s %s", b.Number, b.DisplayName(), time.UnixMilli(b.CTime).Format(time.DateTime))
				if b.InSync {
					line += " (in sync)"
				}
				if len(b.Tracked) > 0 {
					line += " [" + strings.Join(b.Tracked, ", ") + "]"
				}
				if b.Number == p.Meta.Branch {
					active.Println("* " + line)
				} else {
					fmt.Println("  " + line)
				}
			}
			return nil
		},
	}

	var addCmd = &cobra.Command{
		Use:   "add <pattern>...",
		Short: "Track files matching the patterns on the current branch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			patterns, err := workspacePatterns(p, args)
			if err != nil {
				return err
			}
			if err := p.Track(patterns...); err != nil {
				return err
			}
			fmt.Println("Tracking", strings.Join(patterns, ", "))
			return nil
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm <pattern>...",
		Short: "Stop tracking the patterns on the current branch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			patterns, err := workspacePatterns(p, args)
			if err != nil {
				return err
			}
			if err := p.Untrack(patterns...); err != nil {
				return err
			}
			fmt.Println("Untracked", strings.Join(patterns, ", "))
			return nil
		},
	}

	var checkCmd = &cobra.Command{
		Use:   "check [ref]",
		Short: "Verify the stored content of a revision",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := initParcel()
			if err != nil {
				return err
			}
			defer p.Close()

			corrupt, err := p.Verify(refArg(args))
			if err != nil {
				return err
			}
			if len(corrupt) == 0 {
				fmt.Println("All stored files are intact")
				return nil
			}
			printPaths(color.New(color.FgRed), "BAD", corrupt)
			return fmt.Errorf("%d stored files are damaged", len(corrupt))
		},
	}

	rootCmd.AddCommand(offlineCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(checkCmd)
}

func initParcel() (*parcel.Parcel, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}

	p, err := parcel.Open(cwd, cfg, base.WithRepository(cwd))
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return p, nil
}

// workspacePatterns makes patterns given relative to the current directory
// relative to the repository root.
func workspacePatterns(p *parcel.Parcel, args []string) ([]string, error) {
	patterns := make([]string, 0, len(args))
	for _, arg := range args {
		rel, err := p.Workspace.Rel(arg)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, rel)
	}
	return patterns, nil
}

func refArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// askConflict prompts for each conflicting line on the terminal.
func askConflict(in *bufio.Reader) merge.AskFunc {
	theirs := color.New(color.FgRed)
	mine := color.New(color.FgGreen)
	return func(block *merge.Block) merge.Answer {
		fmt.Printf("Conflict at line %d:\n", block.Line+1)
		if block.Replaces != nil {
			for _, l := range block.Replaces.Lines {
				theirs.Println("T " + l)
			}
		}
		for _, l := range block.Lines {
			mine.Println("M " + l)
		}
		for {
			fmt.Print("Use (t)heirs, (m)ine, (n)ext or (u)ser input? ")
			reply, err := in.ReadString('\n')
			if err != nil {
				return merge.Answer{Resolution: merge.Theirs}
			}
			switch strings.ToLower(strings.TrimSpace(reply)) {
			case "t":
				return merge.Answer{Resolution: merge.Theirs}
			case "m":
				return merge.Answer{Resolution: merge.Mine}
			case "n":
				return merge.Answer{Resolution: merge.Next}
			case "u":
				fmt.Print("Replacement line: ")
				line, err := in.ReadString('\n')
				if err != nil {
					return merge.Answer{Resolution: merge.Theirs}
				}
				return merge.Answer{Lines: []string{strings.TrimRight(line, "\r\n")}}
			}
		}
	}
}

func printChanges(changes content.ChangeSet) {
	colors := map[parcel.ChangeKind]*color.Color{
		parcel.KindAdded:    color.New(color.FgGreen),
		parcel.KindDeleted:  color.New(color.FgRed),
		parcel.KindModified: color.New(color.FgYellow),
	}
	for _, f := range parcel.ChangeList(changes) {
		colors[f.Kind].Printf("%s ", f.Kind)
		fmt.Println(f.Path)
	}
}

func printPaths(c *color.Color, kind string, paths []string) {
	for _, path := range paths {
		c.Printf("%s ", kind)
		fmt.Println(path)
	}
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)
	file := color.New(color.Bold)

	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		case strings.HasPrefix(line, "ADD "), strings.HasPrefix(line, "DEL "), strings.HasPrefix(line, "MOD "):
			file.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
