package processor

import (
	"context"
	"fmt"

	"habitflow/config"
	"habitflow/logger"
	"habitflow/models"
)

// RowSource supplies the raw rows for one refresh.
type RowSource interface {
	Fetch(ctx context.Context) ([]models.RawRow, error)
}

// Pipeline runs fetch, normalize and derive as one synchronous pass. Each
// run produces a fresh table; nothing is shared between runs.
type Pipeline struct {
	source     RowSource
	normalizer *Normalizer
	engine     *Engine
	log        *logger.Log
}

func NewPipeline(cfg config.PipelineConfig, source RowSource, engine *Engine) *Pipeline {
	return &Pipeline{
		source:     source,
		normalizer: NewNormalizer(cfg),
		engine:     engine,
		log:        logger.GetLogger(),
	}
}

// Run executes one refresh cycle and returns the derived table together
// with the number of raw rows fetched.
func (p *Pipeline) Run(ctx context.Context) (*models.Table, int, error) {
	rows, err := p.source.Fetch(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch rows: %w", err)
	}
	logger.IncrementRowsFetched(len(rows))

	records := p.normalizer.Normalize(rows)
	logger.RecordStageRows("normalize", len(records))

	table := p.engine.Derive(records)
	logger.RecordStageRows("derive", table.Len())

	return table, len(rows), nil
}
