package processors

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"videoInsight/config"
	"videoInsight/core"
	"videoInsight/storage"
)

// Pipeline wires download, transcription, indexing, question answering and
// summarization behind the interface the front-end consumes. All external
// clients are constructed here and injected, never global.
type Pipeline struct {
	cfg        *config.Config
	downloader Downloader
	transcribe *TranscribeService
	indexer    *storage.Indexer
	answerer   *Answerer
	summarizer *SummarizeService

	mu     sync.Mutex
	stores map[string]storage.VectorStore // contentID -> open store
}

// IngestResult is what the front-end gets back from one ingestion.
type IngestResult struct {
	ContentID   string
	Store       storage.VectorStore
	ProcessedMB float64
}

func NewPipeline(cfg *config.Config) *Pipeline {
	var asr ASRClient = MockASR{}
	var completer Completer
	var embedder storage.Embedder = storage.NewLocalEmbedder()

	if cfg.HasValidAPI() {
		cli := newOpenAIClient(cfg)
		asr = NewWhisperASR(cli, cfg.WhisperModel)
		completer = NewOpenAICompleter(cli)
		embedder = storage.NewOpenAIEmbedder(cli, cfg.EmbeddingModel)
	} else {
		config.PrintConfigInstructions()
		log.Printf("Warning: no API configured, using mock transcription and local embeddings")
		completer = mockCompleter{}
	}

	cache := core.NewSegmentCache(cfg.CacheDir)
	factory := storage.NewFactory(cfg, embedder)

	return &Pipeline{
		cfg:        cfg,
		downloader: NewDownloader(),
		transcribe: &TranscribeService{
			ASR:               asr,
			Cache:             cache,
			Segmenter:         NewSegmenter(filepath.Join(cfg.DataDir, "chunks"), cfg.SegmentBitrate),
			SegmentMS:         cfg.SegmentMinutes * 60 * 1000,
			MaxConcurrent:     cfg.MaxConcurrent,
			SequentialBelowMS: cfg.LongVideoMinutes * 60 * 1000,
		},
		indexer:    storage.NewIndexer(factory),
		answerer:   &Answerer{Completer: completer},
		summarizer: &SummarizeService{Completer: completer},
		stores:     make(map[string]storage.VectorStore),
	}
}

func newOpenAIClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

// Ingest downloads, transcribes and indexes one video. Repeat ingestion of
// an already-indexed URL reopens the persisted store and returns
// immediately with zero processed megabytes.
func (p *Pipeline) Ingest(ctx context.Context, url, durationChoice string, progress core.Progress) (*IngestResult, error) {
	progress = core.EnsureProgress(progress)
	contentID := core.ContentID(url)

	if store := p.lookupStore(contentID); store != nil {
		progress("Ingest", 100, "Using existing database", 0)
		return &IngestResult{ContentID: contentID, Store: store}, nil
	}

	store, existing, err := p.indexer.Factory.Open(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if existing {
		p.rememberStore(contentID, store)
		progress("Ingest", 100, "Using existing database", 0)
		return &IngestResult{ContentID: contentID, Store: store}, nil
	}

	workDir := filepath.Join(p.cfg.DataDir, "work", contentID)
	defer os.RemoveAll(workDir)
	defer os.RemoveAll(filepath.Join(p.cfg.DataDir, "chunks", contentID))

	progress("Download", 0, "Downloading audio", -1)
	audioPath, err := p.downloader.Download(url, workDir)
	if err != nil {
		return nil, err
	}
	progress("Download", 100, "Download complete", 0)

	// Oversized downloads get one whole-file re-encode before segmentation;
	// this keeps every per-segment extract cheap and the disk footprint sane.
	if mb := FileSizeMB(audioPath); mb > maxUploadMB {
		progress("Prepare", 25, fmt.Sprintf("Compressing %.1f MB audio", mb), -1)
		compressed := filepath.Join(workDir, "compressed_audio.mp3")
		if out, err := CompressAudio(audioPath, compressed, p.cfg.SegmentBitrate); err == nil {
			audioPath = out
		} else {
			log.Printf("compression failed, continuing with original audio: %v", err)
		}
	}

	if limit, ok := parseDurationChoice(durationChoice); ok {
		progress("Prepare", 50, fmt.Sprintf("Trimming to first %d minutes", limit), -1)
		trimmed := filepath.Join(workDir, "clipped_audio.mp3")
		audioPath, err = TrimToMinutes(audioPath, trimmed, limit, p.cfg.SegmentBitrate)
		if err != nil {
			return nil, err
		}
	}

	result, err := p.transcribe.Run(ctx, audioPath, contentID, progress)
	if err != nil {
		return nil, err
	}

	var indexed storage.VectorStore
	if len(result.Segments) > 1 {
		indexed, _, err = p.indexer.IndexSegments(ctx, contentID, result.Segments, progress)
	} else {
		progress("Indexing", 0, "Creating vector database", -1)
		indexed, _, err = p.indexer.Index(ctx, contentID, result.Transcript)
	}
	if err != nil {
		return nil, fmt.Errorf("index transcript: %w", err)
	}
	progress("Indexing", 100, "Vector database ready", 0)

	p.rememberStore(contentID, indexed)
	return &IngestResult{ContentID: contentID, Store: indexed, ProcessedMB: result.ProcessedMB}, nil
}

// parseDurationChoice understands "Full video" (or empty) and
// "First N minutes".
func parseDurationChoice(choice string) (int, bool) {
	choice = strings.TrimSpace(choice)
	if choice == "" || strings.EqualFold(choice, "Full video") {
		return 0, false
	}
	fields := strings.Fields(choice)
	if len(fields) >= 2 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// Answer runs the retrieval-bounded answerer; a completion failure falls
// back to the simplified minimal-context variant before surfacing anything
// to the caller.
func (p *Pipeline) Answer(ctx context.Context, contentID, question string, k int, model string) (string, []core.Hit, error) {
	store, err := p.storeFor(ctx, contentID)
	if err != nil {
		return "", nil, err
	}
	if model == "" {
		model = p.cfg.ChatModel
	}

	answer, evidence, err := p.answerer.Answer(ctx, store, question, k, model)
	if err == nil {
		return answer, evidence, nil
	}
	log.Printf("answer failed (%v), falling back to simplified retrieval", err)

	answer, evidence, err = p.answerer.SimpleAnswer(ctx, store, question, model)
	if err != nil {
		return "", nil, fmt.Errorf("unable to answer the question: %w", err)
	}
	return answer, evidence, nil
}

// Summarize produces a summary for already-ingested content.
func (p *Pipeline) Summarize(ctx context.Context, contentID string, model string, length core.SummaryLength) (string, error) {
	store, err := p.storeFor(ctx, contentID)
	if err != nil {
		return "", err
	}
	if model == "" {
		model = p.cfg.ChatModel
	}
	return p.summarizer.Summarize(ctx, store, model, length)
}

func (p *Pipeline) lookupStore(contentID string) storage.VectorStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stores[contentID]
}

func (p *Pipeline) rememberStore(contentID string, store storage.VectorStore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stores[contentID] = store
}

// storeFor reopens a persisted store when the content was ingested in an
// earlier process lifetime.
func (p *Pipeline) storeFor(ctx context.Context, contentID string) (storage.VectorStore, error) {
	if store := p.lookupStore(contentID); store != nil {
		return store, nil
	}
	store, existing, err := p.indexer.Factory.Open(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !existing {
		return nil, fmt.Errorf("content %s has not been ingested: %w", contentID, core.ErrNotFound)
	}
	p.rememberStore(contentID, store)
	return store, nil
}

// mockCompleter keeps the pipeline runnable without an API key.
type mockCompleter struct{}

func (mockCompleter) Complete(ctx context.Context, model, prompt string, temperature float32, maxTokens int) (string, error) {
	return "(mock completion: no API configured)", nil
}
