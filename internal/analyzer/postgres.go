package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
)

type pgExplain struct {
	Plan pgNode `json:"Plan"`
}

type pgNode struct {
	NodeType     string   `json:"Node Type"`
	RelationName string   `json:"Relation Name"`
	IndexName    string   `json:"Index Name"`
	TotalCost    float64  `json:"Total Cost"`
	PlanRows     int64    `json:"Plan Rows"`
	Plans        []pgNode `json:"Plans"`
}

func parsePostgres(raw string) (*Plan, error) {
	var docs []pgExplain
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, fmt.Errorf("analyzer: postgres plan: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrEmptyPlan
	}

	root := docs[0].Plan
	p := &Plan{
		Database:      "postgres",
		Cost:          root.TotalCost,
		EstimatedRows: root.PlanRows,
		Raw:           raw,
	}
	walkPostgres(&root, p)
	return p, nil
}

func walkPostgres(n *pgNode, p *Plan) {
	switch {
	case strings.Contains(n.NodeType, "Index"):
		p.addIndex(n.IndexName)
	case n.NodeType == "Seq Scan":
		p.addScan(n.RelationName)
	}
	for i := range n.Plans {
		walkPostgres(&n.Plans[i], p)
	}
}
