package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/devices"
	"spinsync/internal/i18n"
)

func addCommands(root *cobra.Command) {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Spotify",
		Long: `Prints the authorize URL and reads back the code (or the whole redirect URL).
With --handoff the tokens parked by a browser login on the backend are collected instead.`,
		Args: cobra.NoArgs,
		RunE: withServices(runLogin),
	}
	loginCmd.Flags().String("code", "", "Authorization code from the redirect")
	loginCmd.Flags().String("handoff", "", "Hand-off id shown by the backend after a browser login")

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List playback devices",
		Args:  cobra.NoArgs,
		RunE:  withServices(runDevices),
	}
	devicesCmd.Flags().Bool("watch", false, "Keep polling until interrupted")

	transferCmd := &cobra.Command{
		Use:   "transfer <device id or name>",
		Short: "Move playback to a device",
		Args:  cobra.ExactArgs(1),
		RunE:  withServices(runTransfer),
	}
	transferCmd.Flags().Bool("play", false, "Start playback on the device")

	root.AddCommand(
		loginCmd,
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the stored session",
			Args:  cobra.NoArgs,
			RunE:  withServices(runLogout),
		},
		devicesCmd,
		transferCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Show what is playing",
			Args:  cobra.NoArgs,
			RunE:  withServices(runStatus),
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check the token-exchange backend",
			Args:  cobra.NoArgs,
			RunE:  withServices(runHealth),
		},
	)
}

type commandFunc func(ctx context.Context, cmd *cobra.Command, args []string, svcs *services) error

// withServices builds the services for one command and turns failures into localized messages.
// An unauthenticated failure also drops the stored session.
func withServices(fn commandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		svcs, err := initializeServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.Close()

		err = fn(ctx, cmd, args, svcs)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		logger.Debug("Command failed", zap.String("command", cmd.Name()), zap.Error(err))
		if core.KindOf(err) == core.KindUnauthenticated {
			if logoutErr := svcs.sessions.Logout(ctx); logoutErr != nil {
				logger.Warn("Failed to clear session", zap.Error(logoutErr))
			}
		}

		var typed *core.Error
		if errors.As(err, &typed) {
			return errors.New(localizer().Error(err))
		}
		return err
	}
}

func localizer() *i18n.Localizer {
	return i18n.NewLocalizer(config.App.Language)
}

func runLogin(ctx context.Context, cmd *cobra.Command, _ []string, svcs *services) error {
	handoff, _ := cmd.Flags().GetString("handoff")
	code, _ := cmd.Flags().GetString("code")

	var (
		tokens core.AuthTokens
		err    error
	)

	switch {
	case handoff != "":
		tokens, err = svcs.backend.Handoff(ctx, handoff)
	default:
		if config.Spotify.BackendURL == "" {
			if err := validateSpotifyConfig(); err != nil {
				return err
			}
		}
		if code == "" {
			state := uuid.NewString()
			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL and authorize spinsync:\n\n  %s\n\nPaste the code or the URL you were redirected to: ",
				svcs.auth.AuthURL(state))
			code, err = readAuthorizationCode(cmd.InOrStdin(), state)
			if err != nil {
				return err
			}
		}
		if config.Spotify.BackendURL != "" {
			tokens, err = svcs.backend.Exchange(ctx, code, config.Spotify.RedirectURL)
		} else {
			tokens, err = svcs.auth.Exchange(ctx, code, config.Spotify.RedirectURL)
		}
	}
	if err != nil {
		return err
	}

	if err := svcs.sessions.Login(ctx, tokens, nil); err != nil {
		return err
	}

	name := "Spotify"
	if user, err := svcs.spotify.CurrentUser(ctx); err != nil {
		logger.Warn("Failed to fetch user profile", zap.Error(err))
	} else {
		if err := svcs.sessions.UpdateUser(ctx, *user); err != nil {
			logger.Warn("Failed to store user profile", zap.Error(err))
		}
		name = user.DisplayName
		if name == "" {
			name = user.ID
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), localizer().T("success.logged_in", name))
	return nil
}

func readAuthorizationCode(r io.Reader, state string) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	return parseAuthorizationResponse(line, state)
}

// parseAuthorizationResponse accepts a bare code or the full redirect URL. A URL must carry the expected state.
func parseAuthorizationResponse(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", core.NewError(core.KindUnauthenticated, "login", "no authorization code given")
	}
	if !strings.Contains(input, "?") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	query := u.Query()
	if denied := query.Get("error"); denied != "" {
		return "", core.NewError(core.KindUnauthenticated, "login", "authorization denied: "+denied)
	}
	if got := query.Get("state"); got != state {
		return "", core.NewError(core.KindUnauthenticated, "login", "state mismatch")
	}
	code := query.Get("code")
	if code == "" {
		return "", core.NewError(core.KindUnauthenticated, "login", "redirect URL carries no code")
	}
	return code, nil
}

func runLogout(ctx context.Context, cmd *cobra.Command, _ []string, svcs *services) error {
	if err := svcs.sessions.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), localizer().T("success.logged_out"))
	return nil
}

func runDevices(ctx context.Context, cmd *cobra.Command, _ []string, svcs *services) error {
	watch, _ := cmd.Flags().GetBool("watch")
	out := cmd.OutOrStdout()

	if !watch {
		list, err := svcs.directory.Refresh(ctx)
		if err != nil {
			return err
		}
		printDevices(out, list)
		return nil
	}

	watcher := devices.NewWatcher(svcs.directory, config.Playback.DevicePollInterval, logger.Named("watcher"), svcs.metrics,
		func(list []core.Device, err error) {
			if err != nil {
				fmt.Fprintln(out, localizer().Error(err))
				return
			}
			printDevices(out, list)
		})
	watcher.Start(ctx)
	<-ctx.Done()
	watcher.Stop()
	return nil
}

func printDevices(out io.Writer, list []core.Device) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tACTIVE\tRESTRICTED\tVOLUME")
	for _, d := range list {
		volume := "-"
		if d.SupportsVolume {
			volume = fmt.Sprintf("%d%%", d.VolumePercent)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n", d.ID, d.Name, d.Type, d.IsActive, d.IsRestricted, volume)
	}
	_ = w.Flush()
}

func runTransfer(ctx context.Context, cmd *cobra.Command, args []string, svcs *services) error {
	play, _ := cmd.Flags().GetBool("play")

	list, err := svcs.directory.Refresh(ctx)
	if err != nil {
		return err
	}
	target, ok := devices.Match(list, args[0])
	if !ok {
		return core.NewError(core.KindNotFound, "transfer", fmt.Sprintf("no device matches %q", args[0]))
	}

	if err := svcs.transfer.SafeTransfer(ctx, target.ID, target.Name, play); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), transferMessage(localizer(), target, play))
	return nil
}

// transferMessage reports a no-op transfer to the already active device differently.
func transferMessage(l *i18n.Localizer, target core.Device, play bool) string {
	if target.IsActive && !play {
		return l.T("success.already_there", target.Name)
	}
	return l.T("success.transferred", target.Name)
}

func runStatus(ctx context.Context, cmd *cobra.Command, _ []string, svcs *services) error {
	state, err := svcs.reconciler.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatStatus(localizer(), state))
	return nil
}

func formatStatus(l *i18n.Localizer, state *core.PlaybackState) string {
	if state == nil || state.Track == nil {
		return l.T("format.nothing")
	}

	device := "-"
	if state.Device != nil {
		device = l.T("format.device", state.Device.Name, state.Device.Type)
	}

	key := "format.paused"
	if state.IsPlaying {
		key = "format.now_playing"
	}
	return l.T(key, state.Track.ArtistNames(), state.Track.Name, device)
}

func runHealth(ctx context.Context, cmd *cobra.Command, _ []string, svcs *services) error {
	if err := svcs.backend.Health(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
