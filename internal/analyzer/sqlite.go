package analyzer

import "strings"

// parseSQLite reads EXPLAIN QUERY PLAN details such as
//
//	SCAN posts
//	SEARCH comments USING INDEX index_comments_on_post_id (post_id=?)
//	SEARCH posts USING INTEGER PRIMARY KEY (rowid=?)
func parseSQLite(details []string) *Plan {
	p := &Plan{Database: "sqlite", Raw: strings.Join(details, "\n")}
	for _, d := range details {
		fields := strings.Fields(d)
		if len(fields) < 2 {
			continue
		}
		verb, table := strings.ToUpper(fields[0]), fields[1]
		if verb != "SCAN" && verb != "SEARCH" {
			continue
		}

		upper := strings.ToUpper(d)
		switch {
		case strings.Contains(upper, "USING INTEGER PRIMARY KEY"),
			strings.Contains(upper, "USING PRIMARY KEY"):
			p.addIndex("PRIMARY KEY")
		case strings.Contains(upper, "USING AUTOMATIC"):
			p.addIndex("AUTOMATIC INDEX")
		case strings.Contains(upper, "USING COVERING INDEX "):
			i := strings.Index(upper, "USING COVERING INDEX ")
			p.addIndex(firstWord(d[i+len("USING COVERING INDEX "):]))
		case strings.Contains(upper, "USING INDEX "):
			i := strings.Index(upper, "USING INDEX ")
			p.addIndex(firstWord(d[i+len("USING INDEX "):]))
		case verb == "SCAN":
			p.addScan(table)
		}
	}
	return p
}
