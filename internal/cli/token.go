package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zamburak/zamburak/internal/authority"
	"github.com/zamburak/zamburak/internal/snapshot"
)

var (
	tokenDB       string
	mintSubject   string
	mintScope     []string
	mintTTL       string
	delegParent   string
	delegSubject  string
	delegScope    []string
	delegTTL      string
	revokeTokenID string
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.PersistentFlags().StringVar(&tokenDB, "db", defaultTokenDB(), "Path to the token database")

	tokenCmd.AddCommand(tokenMintCmd)
	tokenMintCmd.Flags().StringVar(&mintSubject, "subject", "", "Principal the token is issued to (required)")
	tokenMintCmd.Flags().StringSliceVar(&mintScope, "scope", nil, "Scope resources the token grants (required)")
	tokenMintCmd.Flags().StringVar(&mintTTL, "ttl", "", "Validity duration (e.g. 1h); omit for no expiry")
	tokenMintCmd.MarkFlagRequired("subject")
	tokenMintCmd.MarkFlagRequired("scope")

	tokenCmd.AddCommand(tokenDelegateCmd)
	tokenDelegateCmd.Flags().StringVar(&delegParent, "parent", "", "Token to delegate from (required)")
	tokenDelegateCmd.Flags().StringVar(&delegSubject, "subject", "", "Child subject; inherits the parent's when omitted")
	tokenDelegateCmd.Flags().StringSliceVar(&delegScope, "scope", nil, "Narrowed scope, a strict subset of the parent's (required)")
	tokenDelegateCmd.Flags().StringVar(&delegTTL, "ttl", "", "Narrowed validity duration; must fit the parent window")
	tokenDelegateCmd.MarkFlagRequired("parent")
	tokenDelegateCmd.MarkFlagRequired("scope")

	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenRevokeCmd.Flags().StringVar(&revokeTokenID, "id", "", "Token to revoke (required)")
	tokenRevokeCmd.MarkFlagRequired("id")

	tokenCmd.AddCommand(tokenListCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Authority token lifecycle operations",
	Long:  "Mint, delegate, revoke, and list authority tokens in the token database.",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a root authority token",
	RunE:  runTokenMint,
}

var tokenDelegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Delegate a narrowed child token",
	Long:  "Derives a child token from a parent. The child's scope must be a strict,\nnon-empty subset of the parent's, and its lifetime must fit the parent window.",
	RunE:  runTokenDelegate,
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a token and all its delegations",
	RunE:  runTokenRevoke,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens with their current status",
	RunE:  runTokenList,
}

func defaultTokenDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tokens.db"
	}
	return filepath.Join(home, ".zamburak", "tokens.db")
}

// withTokenStore loads the persisted table into a fresh store, runs fn,
// and saves the table back.
func withTokenStore(fn func(store *authority.Store) error) error {
	if err := os.MkdirAll(filepath.Dir(tokenDB), 0700); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	db, err := snapshot.Open(tokenDB)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	tokens, err := db.Load(ctx)
	if err != nil {
		return err
	}

	store := authority.NewStore(nil)
	store.Restore(tokens)
	if err := fn(store); err != nil {
		return err
	}
	return db.Save(ctx, store.All())
}

func printToken(store *authority.Store, tok authority.Token) {
	status := store.Validate(tok.ID, store.Clock().Now())
	out := map[string]any{
		"id":      tok.ID,
		"subject": tok.Subject,
		"scope":   tok.Scope,
		"status":  string(status),
	}
	if !tok.IssuedAt.IsZero() {
		out["issued_at"] = tok.IssuedAt.UTC().Format(time.RFC3339)
	}
	if !tok.ExpiresAt.IsZero() {
		out["expires_at"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if tok.ParentID != "" {
		out["parent_id"] = tok.ParentID
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func cliValidity(store *authority.Store, ttl string) (authority.Validity, error) {
	now := store.Clock().Now()
	validity := authority.Validity{NotBefore: now}
	if ttl == "" {
		return validity, nil
	}
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return authority.Validity{}, fmt.Errorf("bad ttl %q: %w", ttl, err)
	}
	validity.NotAfter = now.Add(d)
	return validity, nil
}

func runTokenMint(cmd *cobra.Command, args []string) error {
	return withTokenStore(func(store *authority.Store) error {
		validity, err := cliValidity(store, mintTTL)
		if err != nil {
			return err
		}
		tok, err := store.Mint(mintSubject, mintScope, validity)
		if err != nil {
			return err
		}
		printToken(store, tok)
		return nil
	})
}

func runTokenDelegate(cmd *cobra.Command, args []string) error {
	return withTokenStore(func(store *authority.Store) error {
		validity, err := cliValidity(store, delegTTL)
		if err != nil {
			return err
		}
		tok, err := store.Delegate(delegParent, delegSubject, delegScope, validity)
		if err != nil {
			return err
		}
		printToken(store, tok)
		return nil
	})
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	return withTokenStore(func(store *authority.Store) error {
		if _, ok := store.Get(revokeTokenID); !ok {
			return fmt.Errorf("token %s not found", revokeTokenID)
		}
		store.Revoke(revokeTokenID)
		fmt.Printf("revoked %s\n", revokeTokenID)
		return nil
	})
}

func runTokenList(cmd *cobra.Command, args []string) error {
	return withTokenStore(func(store *authority.Store) error {
		for _, tok := range store.All() {
			printToken(store, tok)
		}
		return nil
	})
}
