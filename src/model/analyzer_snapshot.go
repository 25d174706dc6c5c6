package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// StrategyKind discriminates the analyzer document stored in a snapshot.
type StrategyKind string

const (
	StrategyKindGridCapitalPercent StrategyKind = "grid_capital_percent"
	StrategyKindGridMarginROI      StrategyKind = "grid_margin_roi"
)

// AnalyzerDocument is implemented only by the document types of this package.
type AnalyzerDocument interface {
	Kind() StrategyKind
	analyzerDocument()
}

// GridState is the part of every grid analyzer document shared across kinds.
type GridState struct {
	Capital     float64 `json:"capital"`
	WalletValue float64 `json:"wallet_value"`
	MinPrice    float64 `json:"min_price"`
	MaxPrice    float64 `json:"max_price"`
	Step        float64 `json:"step"`
	Generation  uint64  `json:"generation"`
	FilledSlots int     `json:"filled_slots"`
	EmptySlots  int     `json:"empty_slots"`
	LongSize    float64 `json:"long_size"`
	LongEntry   float64 `json:"long_entry"`
	ShortSize   float64 `json:"short_size"`
	ShortEntry  float64 `json:"short_entry"`
	Dead        bool    `json:"dead"`
}

// CapitalPercentDocument describes a grid whose position exits are measured against capital.
type CapitalPercentDocument struct {
	GridState
	TakeProfitPercent float64 `json:"take_profit_percent"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
}

func (CapitalPercentDocument) Kind() StrategyKind { return StrategyKindGridCapitalPercent }
func (CapitalPercentDocument) analyzerDocument()  {}

// MarginROIDocument describes a grid whose position exits are measured as ROI on margin.
type MarginROIDocument struct {
	GridState
	Multiplier       float64 `json:"multiplier"`
	MarginUsed       float64 `json:"margin_used"`
	TakeProfitROIPct float64 `json:"take_profit_roi_pct"`
	StopLossROIPct   float64 `json:"stop_loss_roi_pct"`
}

func (MarginROIDocument) Kind() StrategyKind { return StrategyKindGridMarginROI }
func (MarginROIDocument) analyzerDocument()  {}

// AnalyzerSnapshot is a point-in-time analyzer document of one simulation instance.
type AnalyzerSnapshot struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	InstanceID string       `gorm:"size:100;index" json:"instance_id"`
	Pair       string       `gorm:"size:50;index" json:"pair"`
	Kind       StrategyKind `gorm:"size:40" json:"kind"`
	Payload    string       `gorm:"type:text" json:"payload"`
	TakenAt    time.Time    `gorm:"index" json:"taken_at"`
	CreatedAt  time.Time    `json:"created_at"`
}

// NewAnalyzerSnapshot encodes doc under its kind tag.
func NewAnalyzerSnapshot(instanceID, pair string, takenAt time.Time, doc AnalyzerDocument) (*AnalyzerSnapshot, error) {
	if doc == nil {
		return nil, fmt.Errorf("analyzer snapshot %s: nil document", instanceID)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s document: %w", doc.Kind(), err)
	}
	return &AnalyzerSnapshot{
		InstanceID: instanceID,
		Pair:       pair,
		Kind:       doc.Kind(),
		Payload:    string(raw),
		TakenAt:    takenAt,
	}, nil
}

// Document decodes the payload into the concrete type selected by Kind.
func (s *AnalyzerSnapshot) Document() (AnalyzerDocument, error) {
	switch s.Kind {
	case StrategyKindGridCapitalPercent:
		var doc CapitalPercentDocument
		if err := json.Unmarshal([]byte(s.Payload), &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", s.Kind, err)
		}
		return doc, nil
	case StrategyKindGridMarginROI:
		var doc MarginROIDocument
		if err := json.Unmarshal([]byte(s.Payload), &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", s.Kind, err)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
}
