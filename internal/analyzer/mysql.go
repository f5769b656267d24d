package analyzer

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type myExplain struct {
	QueryBlock myBlock `json:"query_block"`
}

type myBlock struct {
	CostInfo struct {
		QueryCost string `json:"query_cost"`
	} `json:"cost_info"`
	Table      *myTable `json:"table"`
	NestedLoop []struct {
		Table *myTable `json:"table"`
	} `json:"nested_loop"`
	Ordering   *myBlock `json:"ordering_operation"`
	Grouping   *myBlock `json:"grouping_operation"`
	Duplicates *myBlock `json:"duplicates_removal"`

	UsingFilesort bool `json:"using_filesort"`
}

type myTable struct {
	TableName  string `json:"table_name"`
	AccessType string `json:"access_type"`
	Key        string `json:"key"`
	Rows       int64  `json:"rows_examined_per_scan"`
}

func parseMySQL(raw string) (*Plan, error) {
	var doc myExplain
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("analyzer: mysql plan: %w", err)
	}

	p := &Plan{Database: "mysql", Raw: raw}
	if c := doc.QueryBlock.CostInfo.QueryCost; c != "" {
		cost, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, fmt.Errorf("analyzer: mysql query cost %q: %w", c, err)
		}
		p.Cost = cost
	}
	walkMySQL(&doc.QueryBlock, p)
	return p, nil
}

func walkMySQL(b *myBlock, p *Plan) {
	if b == nil {
		return
	}
	if b.UsingFilesort {
		p.Filesort = true
	}
	addMySQLTable(b.Table, p)
	for _, nl := range b.NestedLoop {
		addMySQLTable(nl.Table, p)
	}
	walkMySQL(b.Ordering, p)
	walkMySQL(b.Grouping, p)
	walkMySQL(b.Duplicates, p)
}

func addMySQLTable(t *myTable, p *Plan) {
	if t == nil {
		return
	}
	p.EstimatedRows += t.Rows
	if t.Key != "" {
		p.addIndex(t.Key)
	}
	// ALL is a full table scan; index is a full index scan.
	if t.AccessType == "ALL" {
		p.addScan(t.TableName)
	}
}
