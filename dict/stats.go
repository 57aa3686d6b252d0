// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import (
	"fmt"
	"strings"
)

// statsVectLen caps the chain lengths tracked individually; longer
// chains share the last bucket.
const statsVectLen = 50

// Stats returns a human readable summary of the chain length
// distribution of d's tables.
func (d *Dict[K, V]) Stats() string {
	var buf strings.Builder
	d.ht[0].writeStats(&buf, 0)
	if d.IsRehashing() {
		d.ht[1].writeStats(&buf, 1)
	}
	return buf.String()
}

func (t *table[K, V]) writeStats(buf *strings.Builder, tableID int) {
	if t.used == 0 {
		buf.WriteString("No stats available for empty dictionaries\n")
		return
	}
	var clvector [statsVectLen]int
	slots, maxchainlen, totchainlen := 0, 0, 0
	for _, he := range t.slots {
		if he == nil {
			clvector[0]++
			continue
		}
		slots++
		chainlen := 0
		for ; he != nil; he = he.next {
			chainlen++
		}
		clvector[min(chainlen, statsVectLen-1)]++
		maxchainlen = max(maxchainlen, chainlen)
		totchainlen += chainlen
	}

	name := "main hash table"
	if tableID == 1 {
		name = "rehashing target"
	}
	fmt.Fprintf(buf, "Hash table %d stats (%s):\n", tableID, name)
	fmt.Fprintf(buf, " table size: %d\n", t.size())
	fmt.Fprintf(buf, " number of elements: %d\n", t.used)
	fmt.Fprintf(buf, " different slots: %d\n", slots)
	fmt.Fprintf(buf, " max chain length: %d\n", maxchainlen)
	fmt.Fprintf(buf, " avg chain length (counted): %.02f\n", float64(totchainlen)/float64(slots))
	fmt.Fprintf(buf, " avg chain length (computed): %.02f\n", float64(t.used)/float64(slots))
	buf.WriteString(" Chain length distribution:\n")

	for i, n := range clvector {
		if n == 0 {
			continue
		}
		prefix := ""
		if i == statsVectLen-1 {
			prefix = ">= "
		}
		fmt.Fprintf(buf, "   %s%d: %d (%.02f%%)\n",
			prefix, i, n, float64(n)/float64(t.size())*100)
	}
}
