package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/output"
	"github.com/quarry-search/quarry/internal/preflight"
	"github.com/quarry-search/quarry/internal/store"
)

// embedBatchSize bounds the number of texts per vectorization call.
const embedBatchSize = 32

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Index documents into the dense, sparse, and database stores",
		Long: `Index documents from a file into all three stores.

Each line is either a JSON object {"id": ..., "text": ..., "tags": ...}
or plain text (IDs are generated). Positions are assigned in input order
and kept consistent across stores.

Examples:
  quarry index corpus.jsonl
  quarry index notes.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0])
		},
	}
	return cmd
}

// indexLine is the JSONL document shape.
type indexLine struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Tags string `json:"tags"`
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	docs, err := readDocuments(path)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		out.Line("nothing to index")
		return nil
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Reopen the persisted dense index so appended positions continue
	// where the last run stopped.
	load := false
	if _, err := os.Stat(densePath(cfg)); err == nil {
		load = true
	}
	eng, err := openEngine(cfg, load)
	if err != nil {
		return err
	}
	defer eng.close()

	results, err := preflight.Run(ctx,
		preflight.DataDirCheck{Dir: cfg.Paths.DataDir},
		preflight.EmbedderCheck{Embedder: eng.embedder},
	)
	for _, r := range results {
		slog.Debug("preflight", slog.String("check", r.Name), slog.String("status", r.Status.String()), slog.String("message", r.Message))
	}
	if err != nil {
		return err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	for lo := 0; lo < len(texts); lo += embedBatchSize {
		hi := min(lo+embedBatchSize, len(texts))
		vectors, err := eng.embedder.EmbedBatch(ctx, texts[lo:hi])
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if err := eng.dense.Add(ctx, vectors); err != nil {
			return fmt.Errorf("dense index: %w", err)
		}
	}

	if err := eng.sparse.Index(ctx, texts); err != nil {
		return fmt.Errorf("sparse index: %w", err)
	}
	if err := eng.database.SaveDocuments(ctx, docs); err != nil {
		return fmt.Errorf("save documents: %w", err)
	}
	if err := eng.dense.Save(densePath(cfg)); err != nil {
		return fmt.Errorf("save dense index: %w", err)
	}

	slog.Info("index_complete", slog.Int("documents", len(docs)))
	out.Line("indexed %d documents into %s", len(docs), cfg.Paths.DataDir)
	return nil
}

// readDocuments loads JSONL or plain-text documents from a file.
func readDocuments(path string) ([]store.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var docs []store.Document
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "{") {
			var parsed indexLine
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				return nil, fmt.Errorf("parse line %d: %w", len(docs)+1, err)
			}
			if parsed.ID == "" {
				parsed.ID = fmt.Sprintf("doc-%d", len(docs))
			}
			docs = append(docs, store.Document{ID: parsed.ID, Text: parsed.Text, Tags: parsed.Tags})
		} else {
			docs = append(docs, store.Document{ID: fmt.Sprintf("doc-%d", len(docs)), Text: line})
		}
	}
	return docs, scanner.Err()
}
