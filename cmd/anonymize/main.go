// Command anonymize is the Swiss PII detection and anonymization engine.
//
// It detects personal data in text documents with a combination of
// checksum-validated patterns (IBAN, AVS number, Swiss UID, credit cards,
// phone numbers) and a local token-classification model, resolves overlaps,
// and replaces approved entities with reversible pseudonyms. The mapping
// needed to reverse a substitution is exported once per session as a JSON
// artifact.
//
// Usage:
//
//	# Print detected candidates as JSON
//	./anonymize detect document.txt
//
//	# Redact a document and write the mapping artifact next to it
//	./anonymize redact document.txt
//
//	# Restore a redacted document from its mapping artifact
//	./anonymize restore document.redacted.txt document.mapping.json
//
//	# Score detection against ground-truth annotations
//	./anonymize accuracy document.txt annotations.json
//
//	# Run the review HTTP API for interactive use
//	./anonymize serve
//
// Input may also come from stdin when no file is given. Detection falls back
// to rule-based patterns when the recognizer service is unreachable.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ch8ri0s/pii-anonymizer/internal/accuracy"
	"github.com/ch8ri0s/pii-anonymizer/internal/config"
	"github.com/ch8ri0s/pii-anonymizer/internal/logger"
	"github.com/ch8ri0s/pii-anonymizer/internal/pipeline"
	"github.com/ch8ri0s/pii-anonymizer/internal/recognizer"
	"github.com/ch8ri0s/pii-anonymizer/internal/review"
	"github.com/ch8ri0s/pii-anonymizer/internal/rules"
	"github.com/ch8ri0s/pii-anonymizer/internal/session"
	"github.com/ch8ri0s/pii-anonymizer/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New("engine", cfg.LogLevel)
	pipe := buildPipeline(cfg, log)

	var err error
	switch os.Args[1] {
	case "detect":
		err = runDetect(cfg, pipe, os.Args[2:])
	case "redact":
		err = runRedact(cfg, pipe, os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	case "accuracy":
		err = runAccuracy(pipe, os.Args[2:])
	case "serve":
		err = runServe(cfg, pipe, log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("run", "%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: anonymize detect|redact|restore|accuracy|serve [file...]")
}

// buildPipeline wires the rule registry and, when enabled, the recognizer
// client into a detection pipeline.
func buildPipeline(cfg *config.Config, log *logger.Logger) *pipeline.Pipeline {
	registry := rules.NewRegistry(log)
	var rec pipeline.Recognizer
	if cfg.UseRecognizer {
		rec = recognizer.New(cfg.RecognizerEndpoint, cfg.RecognizerModel,
			cfg.TokenMergeFloor, time.Duration(cfg.RecognizerTimeout)*time.Millisecond, log)
	}
	return pipeline.New(registry, rec, cfg, log)
}

// readInput returns the document text from the first argument or stdin.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func runDetect(cfg *config.Config, pipe *pipeline.Pipeline, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}
	res, err := pipe.Detect(context.Background(), text)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runRedact(cfg *config.Config, pipe *pipeline.Pipeline, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}
	res, err := pipe.Detect(context.Background(), text)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	sess := session.New(text, cfg.NeedsReviewBelow)
	methods := []string{"RULE", "ML"}
	if res.RecognizerSkipped {
		methods = []string{"RULE"}
	}
	if err := sess.SetDetection(res.Candidates, cfg.RecognizerModel, methods); err != nil {
		return err
	}

	redacted := sess.Substitute()
	artifact, err := sess.Finalize()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		base := strings.TrimSuffix(args[0], ".txt")
		if err := writeArtifact(base+".mapping.json", artifact); err != nil {
			return err
		}
	} else if cfg.MappingDBPath != "" {
		st, err := store.Open(cfg.MappingDBPath)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck // process exit follows
		if err := st.Save(sess.ID(), artifact); err != nil {
			return err
		}
	}

	_, err = os.Stdout.WriteString(redacted)
	return err
}

// writeArtifact writes the mapping artifact as indented JSON, mode 0600. The
// file contains raw PII and must be kept out of any shared destination.
func writeArtifact(path string, a *session.Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func runRestore(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("restore needs a redacted file and a mapping artifact")
	}
	text, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read redacted text: %w", err)
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	var a session.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	_, err = os.Stdout.WriteString(session.Deanonymize(string(text), &a))
	return err
}

func runAccuracy(pipe *pipeline.Pipeline, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("accuracy needs a document and an annotations file")
	}
	text, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read annotations: %w", err)
	}
	var truth []accuracy.Annotation
	if err := json.Unmarshal(data, &truth); err != nil {
		return fmt.Errorf("decode annotations: %w", err)
	}

	res, err := pipe.Detect(context.Background(), string(text))
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(accuracy.Evaluate(res.Candidates, truth))
}

func runServe(cfg *config.Config, pipe *pipeline.Pipeline, log *logger.Logger) error {
	st, err := store.Open(cfg.MappingDBPath)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // process exit follows

	printBanner(cfg)
	srv := review.New(cfg, pipe, st, cfg.RecognizerModel, log)
	return srv.ListenAndServe()
}

func printBanner(cfg *config.Config) {
	persistence := cfg.MappingDBPath
	if persistence == "" {
		persistence = "(in-memory — set MAPPING_DB_PATH to persist artifacts)"
	}
	auth := "disabled"
	if cfg.ReviewToken != "" {
		auth = "bearer token"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Swiss PII Anonymization Engine  (Go)        ║
╚══════════════════════════════════════════════════════╝
  Review API         : %s:%d
  Auth               : %s
  Recognizer         : %s
  Recognizer model   : %s
  ML detection       : %v
  Mapping store      : %s

  Check status:
    curl http://%s:%d/status
`, cfg.ReviewBindAddress, cfg.ReviewPort,
		auth,
		cfg.RecognizerEndpoint, cfg.RecognizerModel, cfg.UseRecognizer,
		persistence,
		cfg.ReviewBindAddress, cfg.ReviewPort)
}
