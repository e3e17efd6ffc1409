package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"imgharvest/pkg/auth"
	"imgharvest/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage search engine credentials",
	Long: `Manage stored search engine credentials securely.

Bing needs no credentials. Google Custom Search needs an API key and a
search engine ID (cx).

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (IMGHARVEST_GOOGLE_API_KEY, IMGHARVEST_GOOGLE_CX)`,
}

var authSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store credentials for a provider",
	Example: `  # Interactive setup with a guide
  imgharvest auth set google`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show <provider>",
	Short: "Show stored credentials with secrets masked",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthShow,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRemove,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authRemoveCmd)
	authCmd.AddCommand(authListCmd)
}

func credentialManager() (*auth.Manager, error) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		return nil, exitWith(1, err)
	}
	return manager, nil
}

func providerArg(arg string) (string, error) {
	provider, err := auth.NormalizeProvider(arg)
	if err != nil {
		ui.PrintError("Unknown provider", arg)
		return "", exitWith(1, err)
	}
	return provider, nil
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	provider, err := providerArg(args[0])
	if err != nil {
		return err
	}
	manager, err := credentialManager()
	if err != nil {
		return err
	}

	if provider == "google" {
		auth.ShowAPIKeyGuide(os.Stdout)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("API key: ")
	apiKey, err := readSecret(reader)
	if err != nil {
		ui.PrintError("Failed to read API key", err.Error())
		return exitWith(1, err)
	}

	var engineID string
	if provider == "google" {
		fmt.Print("Search engine ID (cx): ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			ui.PrintError("Failed to read search engine ID", err.Error())
			return exitWith(1, err)
		}
		engineID = strings.TrimSpace(line)
	}

	cred := &auth.Credential{
		Provider:     provider,
		APIKey:       apiKey,
		EngineID:     engineID,
		LastModified: time.Now(),
	}
	if err := manager.Store(cred); err != nil {
		ui.PrintError("Failed to store credentials", err.Error())
		return exitWith(1, err)
	}

	ui.PrintSuccess("Credentials saved: " + provider)
	return nil
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	provider, err := providerArg(args[0])
	if err != nil {
		return err
	}
	manager, err := credentialManager()
	if err != nil {
		return err
	}

	cred, err := manager.Retrieve(provider)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No credentials stored", "run 'imgharvest auth set "+provider+"'")
			return nil
		}
		ui.PrintError("Failed to read credentials", err.Error())
		return exitWith(1, err)
	}

	printCredential(auth.Sanitize(cred))
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	provider, err := providerArg(args[0])
	if err != nil {
		return err
	}
	manager, err := credentialManager()
	if err != nil {
		return err
	}

	if err := manager.Delete(provider); err != nil {
		ui.PrintError("Failed to remove credentials", err.Error())
		return exitWith(1, err)
	}
	ui.PrintSuccess("Credentials removed: " + provider)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := credentialManager()
	if err != nil {
		return err
	}

	creds, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list credentials", err.Error())
		return exitWith(1, err)
	}
	if len(creds) == 0 {
		ui.PrintInfo("No stored credentials", "Use 'imgharvest auth set google' to add some")
		return nil
	}

	ui.PrintHighlight("Stored Credentials")
	fmt.Println()
	for _, cred := range creds {
		printCredential(auth.Sanitize(cred))
	}
	return nil
}

func printCredential(cred *auth.Credential) {
	fmt.Printf("Provider: %s\n", cred.Provider)
	fmt.Printf("   API Key: %s\n", cred.APIKey)
	if cred.EngineID != "" {
		fmt.Printf("   Engine ID: %s\n", cred.EngineID)
	}
	if !cred.LastModified.IsZero() {
		fmt.Printf("   Last Modified: %s\n", cred.LastModified.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
}

// readSecret reads a secret from stdin without echoing when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
