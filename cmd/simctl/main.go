package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	cl "mediasim/internal/cli"
	"mediasim/internal/config"
	"mediasim/internal/game"
	"mediasim/internal/randstate"
	"mediasim/internal/store"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfg    config.CLIConfig
	api    string
	token  string
	local  bool
	asJSON bool
}

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	opts := &rootOptions{cfg: cfg}

	root := &cobra.Command{
		Use:          "simctl",
		Short:        "Seed media games and generate their reader traffic",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.api, "api", "", "talk to a mediasim-api server at this URL instead of the local store")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "admin token for --api (default MEDIASIM_ADMIN_TOKEN or saved session)")
	root.PersistentFlags().BoolVar(&opts.local, "local", false, "ignore any saved session and use the local store")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(),
		newSeedCmd(opts),
		newGamesCmd(opts),
		newShowCmd(opts),
		newTrafficCmd(opts),
		newBackfillCmd(opts),
		newAdvanceCmd(opts),
		newPageviewsCmd(opts),
		newRVCmd(opts),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

// open picks the backend: an explicit --api, else a saved session, else the
// store configured by MEDIASIM_STORE.
func (o *rootOptions) open(ctx context.Context) (backend, error) {
	if strings.TrimSpace(o.api) != "" {
		return remoteBackend{cl.NewClient(o.api, firstNonEmpty(o.token, o.cfg.AdminToken))}, nil
	}
	if !o.local {
		if s, err := cl.LoadSession(); err == nil {
			return remoteBackend{cl.NewClient(s.APIBaseURL, firstNonEmpty(o.token, s.AdminToken))}, nil
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.cfg.LogLevel}))
	return openLocal(ctx, o.cfg, logger)
}

func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, b backend) (any, error)) error {
	ctx := cmd.Context()
	b, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	out, err := fn(ctx, b)
	if err != nil {
		return err
	}
	if o.asJSON {
		return printJSON(out)
	}
	return render(out)
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an API server and token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := strings.TrimSpace(opts.api)
			if api == "" {
				api = opts.cfg.APIBaseURL
			}
			token := firstNonEmpty(opts.token, opts.cfg.AdminToken)
			if token == "" {
				var err error
				if token, err = promptOptional("Admin token (blank for none)"); err != nil {
					return err
				}
			}
			c := cl.NewClient(api, token)
			if _, err := c.ListGames(cmd.Context()); err != nil {
				return fmt.Errorf("reach %s: %w", api, err)
			}
			s, err := cl.SaveSession(cl.Session{APIBaseURL: api, AdminToken: token})
			if err != nil {
				return err
			}
			printSuccess("Session saved for " + s.APIBaseURL)
			return nil
		},
	}
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved API session",
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := cl.ClearSession()
			if err != nil {
				return err
			}
			if !existed {
				printWarn("No saved session.")
				return nil
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		name string
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a new game world",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := config.LoadGameParams(file)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("name") {
				params.Name = name
			}
			if cmd.Flags().Changed("seed") {
				params.Seed = seed
			}
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.CreateGame(ctx, params)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "config", "f", "", "YAML game file (defaults apply to missing keys)")
	cmd.Flags().StringVar(&name, "name", "", "override the game name")
	cmd.Flags().Int64Var(&seed, "seed", 0, "override the master seed")
	return cmd
}

func newGamesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.ListGames(ctx)
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <game-id>",
		Short: "Show a game and its teams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.Game(ctx, id)
			})
		},
	}
}

func newTrafficCmd(opts *rootOptions) *cobra.Command {
	var in game.TrafficRequest
	cmd := &cobra.Command{
		Use:   "traffic <game-id>",
		Short: "Simulate days [start, end) of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.GenerateTraffic(ctx, id, in)
			})
		},
	}
	cmd.Flags().IntVar(&in.Start, "start", 0, "first day")
	cmd.Flags().IntVar(&in.End, "end", 0, "day after the last one")
	cmd.Flags().BoolVar(&in.UseCache, "cache", false, "read recent clicks from the in-process cache instead of the store")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <game-id>",
		Short: "Simulate the rest of period 0 using the pageview cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.Backfill(ctx, id)
			})
		},
	}
}

func newAdvanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <game-id>",
		Short: "Simulate the next day of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.AdvanceDay(ctx, id)
			})
		},
	}
}

func newPageviewsCmd(opts *rootOptions) *cobra.Command {
	var (
		f        store.PageviewFilter
		from, to int
	)
	cmd := &cobra.Command{
		Use:   "pageviews <game-id>",
		Short: "List generated pageviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f.GameID = id
			if cmd.Flags().Changed("from") || cmd.Flags().Changed("to") {
				f.Days = store.Days(from, to)
			}
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.Pageviews(ctx, f)
			})
		},
	}
	cmd.Flags().Int64Var(&f.TeamID, "team", 0, "only this team")
	cmd.Flags().Int64Var(&f.UserID, "user", 0, "only this user")
	cmd.Flags().IntVar(&from, "from", 0, "first day")
	cmd.Flags().IntVar(&to, "to", 1<<30, "last day, inclusive")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows, 0 for all")
	return cmd
}

func newRVCmd(opts *rootOptions) *cobra.Command {
	var (
		req     game.RVRequest
		alpha   []float64
		weights []float64
	)
	cmd := &cobra.Command{
		Use:   "rv <game-id> <kind>",
		Short: "Draw variates from a game's (or team's) random stream",
		Long: "Kinds: uniform, exponential, normal, dirichlet, poisson, choice, shuffle, name, ipv4, user_agent.\n" +
			"Each draw advances and persists the stream, so repeated calls continue the sequence.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req.GameID = id
			req.Kind = randstate.Kind(strings.ToLower(args[1]))
			req.Params.Alpha = alpha
			req.Params.Weights = weights
			return opts.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.GenerateRV(ctx, req)
			})
		},
	}
	cmd.Flags().Int64Var(&req.TeamID, "team", 0, "draw from this team's stream")
	cmd.Flags().IntVarP(&req.N, "count", "n", 1, "number of variates")
	cmd.Flags().Float64Var(&req.Params.Low, "low", 0, "uniform lower bound")
	cmd.Flags().Float64Var(&req.Params.High, "high", 0, "uniform upper bound")
	cmd.Flags().Float64Var(&req.Params.Loc, "loc", 0, "exponential/normal location")
	cmd.Flags().Float64Var(&req.Params.Scale, "scale", 0, "exponential/normal scale")
	cmd.Flags().Float64Var(&req.Params.Lambda, "lambda", 0, "poisson rate")
	cmd.Flags().Float64SliceVar(&alpha, "alpha", nil, "dirichlet concentration, comma separated")
	cmd.Flags().Float64SliceVar(&weights, "weights", nil, "choice weights, comma separated")
	cmd.Flags().IntVar(&req.Params.Size, "size", 0, "shuffle size")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid game id %q", s)
	}
	return id, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
