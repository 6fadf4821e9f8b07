package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/cryptobigbro/ledgerd/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard and writes the resulting
// yaml config next to the binary.
func RunTUI() error {
	var (
		platform     string
		fiat         string
		snapshotPath string
		journalDir   string
		intervalStr  string
		addr         string
		tlsDomains   string
		confirm      bool
	)

	// defaults
	fiat = "EUR"
	snapshotPath = "ledger.json"
	journalDir = "./wal/updates"
	intervalStr = "5m"
	addr = ":8080"

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("LEDGERD CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire up your exchange ledger.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange Platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&platform),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LEDGERD CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: REFERENCE CURRENCY"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Fiat Currency").
				Description("Currency all costs and profits are expressed in (e.g. EUR, USD)").
				Value(&fiat).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("currency cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LEDGERD CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: STORAGE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Snapshot Path").
				Description("File where the reconciled ledger is persisted").
				Value(&snapshotPath),
			huh.NewInput().
				Title("Journal Directory").
				Description("Directory for the update journal WAL").
				Value(&journalDir),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LEDGERD CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: UPDATES AND DASHBOARD"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Update Interval").
				Description("Duration string (e.g. 1m, 5m, 1h)").
				Value(&intervalStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Dashboard Address").
				Description("Listen address (e.g. :8080)").
				Value(&addr),
			huh.NewInput().
				Title("TLS Domains").
				Description("Comma-separated domains for automatic HTTPS, empty for plain HTTP").
				Value(&tlsDomains),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("LEDGERD CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Platform: %s\nFiat: %s\nSnapshot: %s\nJournal: %s\nInterval: %s\nDashboard: %s\n",
		platform, fiat, snapshotPath, journalDir, intervalStr, addr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	interval, _ := time.ParseDuration(intervalStr)

	cfgTmp := config.ConfigTmp{
		Platform:       platform,
		FiatCurrency:   strings.ToUpper(strings.TrimSpace(fiat)),
		SnapshotPath:   snapshotPath,
		JournalDir:     journalDir,
		UpdateInterval: interval,
		DashboardAddr:  addr,
	}

	if domains := strings.TrimSpace(tlsDomains); domains != "" {
		for _, domain := range strings.Split(domains, ",") {
			cfgTmp.TLSDomains = append(cfgTmp.TLSDomains, strings.TrimSpace(domain))
		}
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting ledger...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}
