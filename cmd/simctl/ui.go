package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"mediasim/internal/game"
	"mediasim/internal/model"
	"mediasim/internal/randstate"
	"mediasim/internal/traffic"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("6")).
		Padding(0, 1)
	panelTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Fprintln(os.Stderr, msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func render(v any) error {
	switch out := v.(type) {
	case game.GameView:
		renderGame(out)
	case []model.Game:
		renderGames(out)
	case traffic.Summary:
		renderSummary(out)
	case []model.Pageview:
		renderPageviews(out)
	case randstate.Variates:
		renderVariates(out)
	default:
		return printJSON(v)
	}
	return nil
}

func renderGame(v game.GameView) {
	accent.Printf("\n== GAME #%d %s ==\n", v.ID, v.Name)
	fmt.Printf("Seed:            %d\n", v.Seed)
	fmt.Printf("Days:            %d (period 0: %d)\n", v.NDays, v.NDaysPeriod0)
	fmt.Printf("Progress:        %s\n", progress(v.NextDay, v.NDays))
	fmt.Printf("Authors / users: %d / %d\n", v.NAuthors, v.NUsers)
	fmt.Printf("Events per day:  %.2f\n", v.EventsPerDay)
	fmt.Printf("Conversion rate: %.2f%%\n", v.ConversionRate*100)

	fmt.Println()
	accent.Println("Teams")
	if len(v.Teams) == 0 {
		printInfo("No teams.")
		fmt.Println()
		return
	}
	fmt.Printf("%-4s %-16s %-20s %8s %5s %9s\n", "ID", "NAME", "SEED", "COST", "ADS", "FREE PVS")
	for _, t := range v.Teams {
		s := model.DefaultStrategy
		if len(t.Strategies) > 0 {
			s = t.Strategies[0]
		}
		fmt.Printf("%-4d %-16s %-20d %8.2f %5d %9d\n", t.ID, truncate(t.Name, 16), t.Seed, s.Cost, s.Ads, s.FreePVs)
	}
	fmt.Println()
}

func renderGames(games []model.Game) {
	accent.Println("\n== GAMES ==")
	if len(games) == 0 {
		printInfo("No games yet. Run `simctl seed` to create one.")
		return
	}
	fmt.Printf("%-6s %-24s %-20s %-16s %8s\n", "ID", "NAME", "SEED", "PROGRESS", "USERS")
	for _, g := range games {
		fmt.Printf("%-6d %-24s %-20d %-16s %8s\n", g.ID, truncate(g.Name, 24), g.Seed, progress(g.NextDay, g.NDays), comma(int64(g.NUsers)))
	}
	fmt.Println()
}

func renderSummary(s traffic.Summary) {
	if s.Days == 0 {
		printWarn(fmt.Sprintf("Nothing to simulate: game %d is already at day %d.", s.GameID, s.NextDay))
		return
	}
	mode := "history"
	if s.Cached {
		mode = "cache"
	}
	lines := []string{
		panelTitle.Render(fmt.Sprintf("Game %d: days %d to %d", s.GameID, s.StartDay, s.EndDay-1)),
		fmt.Sprintf("Run:          %s (%s)", s.RunID, mode),
		fmt.Sprintf("Sessions:     %s", comma(int64(s.Sessions))),
		fmt.Sprintf("Candidates:   %s", comma(int64(s.Candidates))),
		fmt.Sprintf("Clicks:       %s", comma(int64(s.Clicks))),
		fmt.Sprintf("Paywalls:     %s", comma(int64(s.Paywalls))),
		fmt.Sprintf("Conversions:  %s", colorizeCount(s.Conversions)),
		fmt.Sprintf("Score:        %.3f ± %.3f", s.ScoreMean, s.ScoreStd),
		fmt.Sprintf("Next day:     %d", s.NextDay),
	}
	fmt.Println(panel.Render(strings.Join(lines, "\n")))
}

func renderPageviews(pvs []model.Pageview) {
	accent.Println("\n== PAGEVIEWS ==")
	if len(pvs) == 0 {
		printInfo("No pageviews match.")
		return
	}
	fmt.Printf("%-8s %-5s %-6s %-8s %-8s %9s %4s %-8s %-9s\n", "ID", "DAY", "TEAM", "USER", "ARTICLE", "SECONDS", "ADS", "PAYWALL", "CONVERTED")
	for _, pv := range pvs {
		fmt.Printf("%-8d %-5d %-6d %-8d %-8d %9.1f %4d %-8s %-9s\n",
			pv.ID, pv.Day, pv.TeamID, pv.UserID, pv.ArticleID,
			pv.Duration*60, pv.AdsSeen, yesNo(pv.SawPaywall), yesNo(pv.Converted))
	}
	fmt.Println()
}

func renderVariates(v randstate.Variates) {
	accent.Printf("\n== %s x%d ==\n", strings.ToUpper(string(v.Kind)), v.Len())
	for i := 0; i < len(v.Floats); i++ {
		fmt.Printf("%4d  %.6f\n", i, v.Floats[i])
	}
	for i, n := range v.Ints {
		fmt.Printf("%4d  %d\n", i, n)
	}
	for i, vec := range v.Vectors {
		parts := make([]string, len(vec))
		for j, x := range vec {
			parts[j] = strconv.FormatFloat(x, 'f', 4, 64)
		}
		fmt.Printf("%4d  [%s]\n", i, strings.Join(parts, " "))
	}
	for i, perm := range v.Perms {
		fmt.Printf("%4d  %v\n", i, perm)
	}
	for i, s := range v.Strings {
		fmt.Printf("%4d  %s\n", i, s)
	}
	fmt.Println()
}

func progress(next, total int) string {
	if next >= total {
		return success.Sprintf("done (%d/%d)", next, total)
	}
	return fmt.Sprintf("day %d/%d", next, total)
}

func colorizeCount(n int) string {
	if n > 0 {
		return success.Sprint(comma(int64(n)))
	}
	return neutral.Sprint(comma(int64(n)))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
