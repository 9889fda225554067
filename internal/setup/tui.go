package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/cunarist/solie/config"
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

func header(step string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("SOLIE SETUP WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the
// resulting yaml config to path.
func RunTUI(path string) error {
	var (
		datapath   string
		assetToken string
		symbolsRaw string
		apiKey     string
		apiSecret  string
		webAddr    string
		confirm    bool
	)

	// defaults
	home, _ := os.UserHomeDir()
	datapath = filepath.Join(home, ".solie")
	assetToken = "USDT"
	webAddr = config.DefaultWebAddr

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SOLIE SETUP WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your trading platform configured.\n"))

	header("STEP 1: DATA FOLDER")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data Folder").
				Description("Candle data, records and settings live here").
				Value(&datapath).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("data folder cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 2: MARKETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Quote Asset Token").
				Options(
					huh.NewOption("USDT", "USDT"),
					huh.NewOption("BUSD", "BUSD"),
				).
				Value(&assetToken),
			huh.NewInput().
				Title("Target Symbols").
				Description(fmt.Sprintf("Comma-separated, up to %d (e.g. BTCUSDT,ETHUSDT)", config.MaxSymbols)).
				Value(&symbolsRaw).
				Validate(func(s string) error {
					symbols := splitSymbols(s)
					if len(symbols) == 0 {
						return fmt.Errorf("at least one symbol is required")
					}
					if len(symbols) > config.MaxSymbols {
						return fmt.Errorf("at most %d symbols are supported", config.MaxSymbols)
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 3: BINANCE API")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API Key").
				Description("Leave empty to observe markets without trading").
				Value(&apiKey),
			huh.NewInput().
				Title("API Secret").
				Value(&apiSecret).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 4: DASHBOARD")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Address").
				Description("Where the web dashboard serves (e.g. :8000)").
				Value(&webAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	header("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Data folder: %s\nAsset token: %s\nSymbols: %s\nDashboard: %s\nAPI key: %s\n",
		datapath, assetToken, symbolsRaw, webAddr, maskKey(apiKey),
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

	cfg := config.Config{
		DataDir:       datapath,
		AssetToken:    assetToken,
		Symbols:       splitSymbols(symbolsRaw),
		BinanceKey:    apiKey,
		BinanceSecret: apiSecret,
		WebAddr:       webAddr,
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nStarting platform...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func splitSymbols(raw string) []string {
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			symbols = append(symbols, part)
		}
	}
	return symbols
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "(none)"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
