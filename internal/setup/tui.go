package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
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

// RunTUI launches the terminal configuration wizard and writes
// config.gen.yaml on confirmation.
func RunTUI() error {
	var (
		baseAsset     string
		quoteAsset    string
		slippageStr   string
		vaultProvider string
		pspProvider   string
		venue         string
		confirm       bool
	)

	// defaults
	baseAsset = "USDC"
	quoteAsset = "BRL"
	slippageStr = "50"

	// vault backend specifics
	var (
		rpcURL          string
		contractAddress string
		treasuryAddress string
		aggBaseURL      string
		aggVaultID      string
	)

	// pix specifics
	var (
		pixBaseURL     string
		pixReceiverKey string
	)

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("RAILS CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire your payment rails.\n"))

	// assets
	fmt.Println(stepStyle.Render("STEP 1: ASSETS"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base Asset").
				Description("Vault underlying (e.g. USDC)").
				Value(&baseAsset).
				Validate(validateSymbol),
			huh.NewInput().
				Title("Quote Asset").
				Description("Fiat collected and paid out (e.g. BRL)").
				Value(&quoteAsset).
				Validate(validateSymbol),
			huh.NewInput().
				Title("Slippage (bps)").
				Description("Tolerance in basis points, 0-10000").
				Value(&slippageStr).
				Validate(validateBps),
		),
	).Run()
	if err != nil {
		return err
	}

	// vault backend
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RAILS CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: VAULT"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Vault Backend").
				Options(
					huh.NewOption("On-chain vault contract", "onchain"),
					huh.NewOption("Index aggregator API", "aggregator"),
				).
				Value(&vaultProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	if vaultProvider == "onchain" {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("RPC URL").
					Value(&rpcURL),
				huh.NewInput().
					Title("Vault Contract Address").
					Value(&contractAddress),
				huh.NewInput().
					Title("Treasury Address").
					Value(&treasuryAddress),
			),
		).Run()
	} else {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Aggregator Base URL").
					Value(&aggBaseURL),
				huh.NewInput().
					Title("Vault ID").
					Value(&aggVaultID),
			),
		).Run()
	}
	if err != nil {
		return err
	}

	// psp
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RAILS CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: PAYMENTS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Payment Provider").
				Options(
					huh.NewOption("PIX banking API", "pix"),
					huh.NewOption("Mock (development)", "mock"),
				).
				Value(&pspProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	if pspProvider == "pix" {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("PIX API Base URL").
					Value(&pixBaseURL),
				huh.NewInput().
					Title("Receiver PIX Key").
					Value(&pixReceiverKey),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// execution venue
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RAILS CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: EXECUTION"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Execution Venue").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Mock (development)", "mock"),
				).
				Value(&venue),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RAILS CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Pair: %s / %s\nSlippage: %s bps\nVault: %s\nPayments: %s\nVenue: %s\n",
		baseAsset, quoteAsset, slippageStr, vaultProvider, pspProvider, venue,
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

	slippage, _ := strconv.Atoi(slippageStr)

	out := map[string]any{
		"base_asset":   baseAsset,
		"quote_asset":  quoteAsset,
		"slippage_bps": slippage,
		"vault": map[string]any{
			"provider": vaultProvider,
			"onchain": map[string]any{
				"rpc_url":          rpcURL,
				"contract_address": contractAddress,
				"treasury_address": treasuryAddress,
			},
			"aggregator": map[string]any{
				"base_url": aggBaseURL,
				"vault_id": aggVaultID,
			},
		},
		"psp": map[string]any{
			"provider": pspProvider,
			"pix": map[string]any{
				"base_url":     pixBaseURL,
				"receiver_key": pixReceiverKey,
			},
		},
		"execution": map[string]any{
			"provider": venue,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting rails...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func validateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	return nil
}

func validateBps(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 || n > 10_000 {
		return fmt.Errorf("must be between 0 and 10000")
	}
	return nil
}
