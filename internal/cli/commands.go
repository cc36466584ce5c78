package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agency-dashboard/internal/config"
	"agency-dashboard/internal/push"
	"agency-dashboard/internal/render"
	"agency-dashboard/internal/tui"
	"agency-dashboard/internal/types"
	"agency-dashboard/internal/utils"
)

func (a *app) newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal dashboard",
		Args:  cobra.NoArgs,
		RunE:  a.runTUI,
	}
}

func (a *app) runTUI(cmd *cobra.Command, args []string) error {
	if a.cfg.Logging.File == "" {
		// The dashboard owns the terminal; the log panel still shows events.
		a.logger = utils.NewWriterLogger(io.Discard, a.cfg.Logging.Level)
	}
	ctx := cmd.Context()
	svc, closeAll := a.newService(ctx, true)
	defer closeAll()
	return tui.Run(ctx, svc, tui.Options{
		ErrorDisplay: a.cfg.UI.ErrorDisplay,
		AltScreen:    a.cfg.UI.AltScreen,
		BackendURL:   a.cfg.Backend.URL,
		PushURL:      a.cfg.Push.URL,
		PushEnabled:  a.cfg.Push.Enabled,
	}, a.logger)
}

func (a *app) newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.newBackend()
			defer b.Close()
			agents, err := b.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if a.flags.format == formatJSON {
				return a.writeJSON(agents)
			}
			a.printAgents(agents)
			return nil
		},
	}
}

func (a *app) newSendCmd() *cobra.Command {
	var viaPush bool
	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Run a command on the agents and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			ctx := cmd.Context()
			svc, closeAll := a.newService(ctx, viaPush)
			defer closeAll()
			if viaPush {
				if err := svc.SendMessage(command); err != nil {
					a.logger.Warnf("push send: %v", err)
				}
			}
			err := svc.SubmitCommand(ctx, command)
			st := svc.Snapshot()
			if err != nil {
				if st.Error == "" {
					return err
				}
				return fmt.Errorf("%s: %w", st.Error, err)
			}
			if perr := a.printResults(st.Results); perr != nil {
				return perr
			}
			if st.Error != "" {
				return errors.New(st.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaPush, "push", false, "also forward the command over the push channel")
	return cmd
}

func (a *app) newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <taskId>",
		Short: "Print the stored results of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.newBackend()
			defer b.Close()
			results, err := b.FetchResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printResults(results)
		},
	}
}

func (a *app) newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			b := a.newBackend()
			defer b.Close()
			url, err := b.UploadFile(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			if a.flags.format == formatJSON {
				return a.writeJSON(types.UploadResponse{URL: url})
			}
			fmt.Fprintln(a.stdout, url)
			return nil
		},
	}
}

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print push events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ch, err := a.dialPush(ctx)
			if err != nil {
				return err
			}
			defer ch.Disconnect()
			return a.watch(ctx, ch)
		},
	}
}

var watchedEvents = []string{
	types.EventMessage,
	types.EventAgentStatus,
	types.EventTaskProgress,
	types.EventCommandResult,
	types.EventErrorEvent,
}

func (a *app) watch(ctx context.Context, ch *push.Channel) error {
	out := newLockedWriter(a.stdout)
	for _, event := range watchedEvents {
		ch.On(event, func(ev push.Event) {
			if a.flags.format == formatJSON {
				line, _ := json.Marshal(types.Envelope{Event: ev.Name, Data: ev.Data})
				out.println(string(line))
				return
			}
			out.println(fmt.Sprintf("%s %-14s %s", time.Now().Format("15:04:05"), ev.Name, describeEvent(ev)))
		})
	}
	lost := make(chan error, 1)
	ch.OnError(func(err error) {
		var remote *push.RemoteError
		if errors.As(err, &remote) {
			out.println(fmt.Sprintf("%s %-14s %s", time.Now().Format("15:04:05"), types.EventError, remote.Text))
			return
		}
		select {
		case lost <- err:
		default:
		}
	})
	a.logger.Infof("watching %s", ch.URL())

	select {
	case <-ctx.Done():
		return nil
	case err := <-lost:
		return err
	case <-ch.Done():
		select {
		case err := <-lost:
			return err
		default:
			return push.ErrClosed
		}
	}
}

// describeEvent summarizes a push event on one line.
func describeEvent(ev push.Event) string {
	msg, ok := ev.Message()
	if !ok || len(msg.Data) == 0 {
		return ev.Text()
	}
	switch ev.Name {
	case types.EventAgentStatus:
		if agent, ok := msg.Agent(); ok {
			return fmt.Sprintf("%s is %s: %s", agent.Name, render.StatusLabel(agent.Status), agent.LastAction)
		}
	case types.EventTaskProgress:
		return fmt.Sprintf("%s: %s", msg.Field("name"), msg.Field("currentTask"))
	case types.EventCommandResult:
		if res, ok := msg.Result(); ok {
			if res.Type == types.ResultImage {
				return "[image] " + res.Content
			}
			return render.PlainText(res.Content)
		}
	case types.EventErrorEvent:
		if text := msg.Field("message"); text != "" {
			return text
		}
	}
	return ev.Text()
}

func (a *app) newExportCmd() *cobra.Command {
	var tasks []string
	var title string
	cmd := &cobra.Command{
		Use:   "export <file> [command...]",
		Short: "Run commands, then save all results as an HTML page",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeAll := a.newService(ctx, false)
			defer closeAll()
			for _, taskID := range tasks {
				if err := svc.LoadTaskResults(ctx, taskID); err != nil {
					return err
				}
			}
			for _, command := range args[1:] {
				if err := svc.SubmitCommand(ctx, command); err != nil {
					return err
				}
			}
			st := svc.Snapshot()
			page, err := render.ExportHTML(title, st.Results, time.Now())
			if err != nil {
				return err
			}
			if err := utils.WriteFileAtomic(args[0], page, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %d results to %s\n", len(st.Results), args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tasks, "task", nil, "include the results of this task id (repeatable)")
	cmd.Flags().StringVar(&title, "title", "Agency session", "page title")
	return cmd
}

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.format == formatJSON {
				return a.writeJSON(a.cfg)
			}
			data, err := config.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printAgents(agents []types.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(a.stdout, "No agents")
		return
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tTASK\tLAST ACTION")
	for _, agent := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", agent.Name, agent.Type,
			render.StatusLabel(agent.Status), dash(agent.CurrentTask), dash(agent.LastAction))
	}
	_ = w.Flush()
}

func (a *app) printResults(results []types.Result) error {
	if a.flags.format == formatJSON {
		if results == nil {
			results = []types.Result{}
		}
		return a.writeJSON(results)
	}
	fmt.Fprintln(a.stdout, render.Results(results, 100))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
