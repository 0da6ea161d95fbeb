package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/session"
	"github.com/urfave/cli/v2"
)

// withApp loads the config, builds the application, runs fn and closes it.
func withApp(fn func(c *cli.Context, app *application) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		app, err := newApplication(c.Context, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(c, app)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or upgrade the database schema",
		Action: withApp(func(c *cli.Context, app *application) error {
			if err := migrateOnStartup(c.Context, app); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "schema is up to date")
			return nil
		}),
	}
}

func ticketsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tickets",
		Usage: "manage voting tickets",
		Subcommands: []*cli.Command{
			{
				Name:      "generate",
				Usage:     "create random ticket codes and print them",
				ArgsUsage: "COUNT",
				Action: withApp(func(c *cli.Context, app *application) error {
					count, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return cli.Exit("COUNT must be a number", 1)
					}

					codes, err := app.tickets.Generate(c.Context, count)
					if err != nil {
						return err
					}
					for _, code := range codes {
						fmt.Fprintln(c.App.Writer, code)
					}
					return nil
				}),
			},
			{
				Name:      "import",
				Usage:     "import predefined codes, one per line ('-' reads stdin)",
				ArgsUsage: "FILE",
				Action: withApp(func(c *cli.Context, app *application) error {
					codes, err := readCodes(c.Args().First())
					if err != nil {
						return err
					}

					report, err := app.tickets.Import(c.Context, codes)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "inserted %d, skipped %d\n", report.Inserted, report.Skipped)
					return nil
				}),
			},
			{
				Name:  "export",
				Usage: "write every ticket as CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
				},
				Action: withApp(func(c *cli.Context, app *application) error {
					var w io.Writer = c.App.Writer
					if path := c.String("out"); path != "" {
						f, err := os.Create(path)
						if err != nil {
							return err
						}
						defer f.Close()
						w = f
					}
					return app.tickets.ExportCSV(c.Context, w)
				}),
			},
			{
				Name:  "reset",
				Usage: "delete every vote and mark every ticket unused",
				Action: withApp(func(c *cli.Context, app *application) error {
					n, err := app.tickets.ResetAll(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "reset %d tickets\n", n)
					return nil
				}),
			},
			{
				Name:  "clear",
				Usage: "delete every vote and every ticket",
				Action: withApp(func(c *cli.Context, app *application) error {
					n, err := app.tickets.ClearAll(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "deleted %d tickets\n", n)
					return nil
				}),
			},
			{
				Name:  "stats",
				Usage: "print ticket usage",
				Action: withApp(func(c *cli.Context, app *application) error {
					stats, err := app.votes.TicketStats(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "total %d, used %d, unused %d (%.2f%% used)\n",
						stats.TotalTickets, stats.UsedTickets, stats.UnusedTickets, stats.UsagePercentage)
					return nil
				}),
			},
		},
	}
}

// readCodes reads one code per line. Blank lines and lines starting with #
// are ignored.
func readCodes(path string) ([]string, error) {
	if path == "" {
		return nil, cli.Exit("FILE is required", 1)
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var codes []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes = append(codes, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return codes, nil
}

func contestantsCommand() *cli.Command {
	return &cli.Command{
		Name:  "contestants",
		Usage: "manage contestants",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "create an active contestant",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "image", Usage: "image URL"},
				},
				Action: withApp(func(c *cli.Context, app *application) error {
					contestant, err := app.votes.CreateContestant(c.Context,
						c.String("name"), c.String("description"), c.String("image"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "created contestant %d (%s)\n", contestant.ID, contestant.Name)
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "list contestants",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "include deactivated contestants"},
				},
				Action: withApp(func(c *cli.Context, app *application) error {
					list := app.votes.ListActiveContestants
					if c.Bool("all") {
						list = app.votes.ListContestants
					}
					contestants, err := list(c.Context)
					if err != nil {
						return err
					}
					for _, ct := range contestants {
						fmt.Fprintf(c.App.Writer, "%d\t%s\tactive=%t\n", ct.ID, ct.Name, ct.IsActive)
					}
					return nil
				}),
			},
			{
				Name:      "deactivate",
				Usage:     "hide a contestant from voting and results",
				ArgsUsage: "ID",
				Action:    withApp(toggleContestant(false)),
			},
			{
				Name:      "activate",
				Usage:     "restore a deactivated contestant",
				ArgsUsage: "ID",
				Action:    withApp(toggleContestant(true)),
			},
		},
	}
}

func toggleContestant(active bool) func(c *cli.Context, app *application) error {
	return func(c *cli.Context, app *application) error {
		id, err := strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil || id <= 0 {
			return cli.Exit("ID must be a positive number", 1)
		}
		if err := app.votes.SetContestantActive(c.Context, id, active); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "contestant %d active=%t\n", id, active)
		return nil
	}
}

func votingCommand() *cli.Command {
	setVoting := func(open bool) cli.ActionFunc {
		return withApp(func(c *cli.Context, app *application) error {
			if err := app.votes.SetVotingOpen(c.Context, open); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "voting open=%t\n", open)
			return nil
		})
	}

	return &cli.Command{
		Name:  "voting",
		Usage: "open, close or inspect voting",
		Subcommands: []*cli.Command{
			{Name: "open", Usage: "accept votes", Action: setVoting(true)},
			{Name: "close", Usage: "reject votes", Action: setVoting(false)},
			{
				Name:  "status",
				Usage: "print whether voting is open",
				Action: withApp(func(c *cli.Context, app *application) error {
					open, err := app.votes.VotingOpen(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "voting open=%t\n", open)
					return nil
				}),
			},
		},
	}
}

func resultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "print the current standings",
		Action: withApp(func(c *cli.Context, app *application) error {
			results, err := app.votes.ComputeResults(c.Context)
			if err != nil {
				return err
			}
			printResults(c.App.Writer, results)
			return nil
		}),
	}
}

func printResults(w io.Writer, results *model.Results) {
	for i, row := range results.Rows {
		fmt.Fprintf(w, "%2d. %-30s %6d votes %6.2f%%\n", i+1, row.Name, row.VoteCount, row.Percentage)
	}
	fmt.Fprintf(w, "total votes: %d\n", results.TotalVotes)
}

func adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "admin account helpers",
		Subcommands: []*cli.Command{
			{
				Name:      "hash-password",
				Usage:     "print the bcrypt hash for admin.password_hash",
				ArgsUsage: "PASSWORD",
				Action: func(c *cli.Context) error {
					password := c.Args().First()
					if password == "" {
						return cli.Exit("PASSWORD is required", 1)
					}
					hash, err := session.HashPassword(password)
					if err != nil {
						logger.Logger.Error().Err(err).Msg("failed to hash password")
						return err
					}
					fmt.Fprintln(c.App.Writer, hash)
					return nil
				},
			},
		},
	}
}
