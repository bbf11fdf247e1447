package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/attestra/attestra/internal/keyregistry"
	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/pkg/client"
	"github.com/attestra/attestra/pkg/jwk"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	keyFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attestra",
	Short: "Attestra trust ledger CLI",
	Long: `attestra is the command-line interface for the Attestra trust ledger.

It generates agent keys, signs and submits attestations, and queries
trust scores and transitive trust paths on an Attestra server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".attestra"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.attestra/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Attestra server URL (default http://localhost:8080)")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(attestCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(transitiveCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	return client.MustNew(serverURL)
}

// loadKey reads an Ed25519 JWK from disk.
func loadKey(path string) (*jwk.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return jwk.Parse(data)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Ed25519 agent key as a JWK file",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := jwk.Generate()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		data, err := json.MarshalIndent(key, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(keygenOut, data, 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}

		pub, _ := key.PublicKey()
		fmt.Printf("wrote %s\n", keygenOut)
		fmt.Printf("public key: %s\n", hex.EncodeToString(pub))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "agent.jwk", "Output file for the private JWK")
}

// ── register ─────────────────────────────────────────────────────────────────

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a key with the server and print the derived agent id",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey(keyFile)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		agentID, err := newClient().RegisterAgent(ctx, key)
		if err != nil {
			return err
		}
		fmt.Println(agentID)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVarP(&keyFile, "key", "k", "agent.jwk", "Agent JWK file")
}

// ── attest ───────────────────────────────────────────────────────────────────

var (
	attestSubject  string
	attestTask     string
	attestEvidence string
)

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Sign an attestation locally and submit it to the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey(keyFile)
		if err != nil {
			return err
		}
		priv, err := key.PrivateKey()
		if err != nil {
			return err
		}
		pub, err := key.PublicKey()
		if err != nil {
			return err
		}

		witnessID := keyregistry.DeriveAgentID(pub)
		att, err := ledger.Create(witnessID, attestSubject, attestTask, attestEvidence, priv)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		res, err := newClient().SubmitAttestation(ctx, &client.Attestation{
			Fingerprint:   att.Fingerprint,
			WitnessID:     att.WitnessID,
			SubjectID:     att.SubjectID,
			Task:          att.Task,
			Evidence:      att.Evidence,
			Timestamp:     att.Timestamp,
			Signature:     att.Signature,
			WitnessPubKey: att.WitnessPubKey,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", res.Outcome, res.Attestation.Fingerprint)
		return nil
	},
}

func init() {
	attestCmd.Flags().StringVarP(&keyFile, "key", "k", "agent.jwk", "Witness JWK file")
	attestCmd.Flags().StringVar(&attestSubject, "subject", "", "Subject agent id (required)")
	attestCmd.Flags().StringVar(&attestTask, "task", "", "Task description (required)")
	attestCmd.Flags().StringVar(&attestEvidence, "evidence", "", "Evidence URI or text (required)")
	attestCmd.MarkFlagRequired("subject")  //nolint:errcheck
	attestCmd.MarkFlagRequired("task")     //nolint:errcheck
	attestCmd.MarkFlagRequired("evidence") //nolint:errcheck
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <attestation.json>",
	Short: "Verify an attestation file against the server's key registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var att client.Attestation
		if err := json.Unmarshal(data, &att); err != nil {
			return fmt.Errorf("parse attestation: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		verdict, err := newClient().VerifyAttestation(ctx, &att)
		if err != nil {
			return err
		}
		if verdict.Valid {
			fmt.Println("valid")
			return nil
		}
		fmt.Printf("invalid: %s (%s)\n", verdict.Error, verdict.Kind)
		os.Exit(1)
		return nil
	},
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainIncludeRevoked bool

var chainCmd = &cobra.Command{
	Use:   "chain <agent_id>",
	Short: "Print an agent's attestation chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chain, err := newClient().Chain(ctx, args[0], chainIncludeRevoked)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tWITNESS\tTASK\tTIMESTAMP\tREVOKED")
		for _, att := range chain {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n",
				att.Seq, att.WitnessID, att.Task, att.Timestamp.Format(time.RFC3339), att.Revoked)
		}
		return w.Flush()
	},
}

func init() {
	chainCmd.Flags().BoolVar(&chainIncludeRevoked, "include-revoked", false, "Include revoked entries (audit view)")
}

// ── score ────────────────────────────────────────────────────────────────────

var scoreJSON bool

var scoreCmd = &cobra.Command{
	Use:   "score <agent_id>",
	Short: "Compute an agent's trust score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		score, err := newClient().Score(ctx, args[0], nil)
		if err != nil {
			return err
		}

		if scoreJSON {
			out, err := json.MarshalIndent(score, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("agent:      %s\n", score.AgentID)
		fmt.Printf("overall:    %.4f\n", score.Overall)
		fmt.Printf("confidence: %.4f\n", score.TotalConfidence)
		fmt.Printf("model:      %s (ledger v%d)\n", score.ModelVersion, score.LedgerVersion)
		for _, s := range score.Signals {
			fmt.Printf("  %-28s score=%.4f conf=%.2f weight=%.2f\n", s.Name, s.Score, s.Confidence, s.Weight)
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "Print the full score as JSON")
}

// ── transitive ───────────────────────────────────────────────────────────────

var transitiveMaxHops int

var transitiveCmd = &cobra.Command{
	Use:   "transitive <source_id> <target_id>",
	Short: "Find the strongest attestation path between two agents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		res, err := newClient().TransitiveTrust(ctx, args[0], args[1], transitiveMaxHops)
		if err != nil {
			return err
		}
		if res == nil {
			fmt.Println("unreachable")
			os.Exit(1)
		}
		fmt.Printf("trust: %.4f over %d hop(s)\n", res.Trust, res.Hops)
		for i, node := range res.Path {
			if i > 0 {
				fmt.Print(" -> ")
			}
			fmt.Print(node)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	transitiveCmd.Flags().IntVar(&transitiveMaxHops, "max-hops", 0, "Hop budget (0 = server default)")
}

// ── rotate ───────────────────────────────────────────────────────────────────

var rotateNewKeyOut string

var rotateCmd = &cobra.Command{
	Use:   "rotate <agent_id>",
	Short: "Rotate an agent's key, signing the proof with the current key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldKey, err := loadKey(keyFile)
		if err != nil {
			return err
		}
		oldPriv, err := oldKey.PrivateKey()
		if err != nil {
			return err
		}

		newKey, err := jwk.Generate()
		if err != nil {
			return err
		}
		newPub, _ := newKey.PublicKey()

		proof := keyregistry.SignRotation(oldPriv, args[0], newPub)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := newClient().RotateKey(ctx, args[0], newKey, hex.EncodeToString(proof)); err != nil {
			return err
		}

		data, err := json.MarshalIndent(newKey, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(rotateNewKeyOut, data, 0o600); err != nil {
			return fmt.Errorf("write new key file: %w", err)
		}
		fmt.Printf("rotated, new key written to %s\n", rotateNewKeyOut)
		return nil
	},
}

func init() {
	rotateCmd.Flags().StringVarP(&keyFile, "key", "k", "agent.jwk", "Current JWK file")
	rotateCmd.Flags().StringVarP(&rotateNewKeyOut, "out", "o", "agent.new.jwk", "Output file for the new private JWK")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("attestra", version)
	},
}
