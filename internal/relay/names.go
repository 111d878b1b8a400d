package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

var spirits = []string{
	"bourbon", "rye", "scotch", "islay", "speyside", "highland", "lowland", "cognac", "armagnac", "mezcal",
	"tequila", "rum", "calvados", "wheated", "malt", "grain", "poitin", "genever", "shochu", "baijiu",
}

var casks = []string{
	"oak", "sherry", "port", "madeira", "sauternes", "char", "stave", "barrel", "hogshead", "pipe",
	"puncheon", "quarter", "firkin", "solera", "virgin", "refill", "toasted", "cooper", "bung", "rickhouse",
}

var notes = []string{
	"vanilla", "caramel", "toffee", "smoke", "peat", "honey", "cinnamon", "clove", "orchard", "cherry",
	"leather", "tobacco", "cocoa", "espresso", "maple", "citrus", "brine", "heather", "nutmeg", "fig",
}

var moods = []string{
	"amber", "golden", "copper", "mellow", "bold", "bright", "velvet", "rustic", "smoky", "warm",
	"crisp", "rich", "lively", "quiet", "late", "rainy", "fireside", "sunday", "midnight", "frosty",
}

// streamName builds a memorable name like "golden-rye-sherry-toffee" from one
// word of each list, in a random list order.
func streamName() string {
	lists := [][]string{spirits, casks, notes, moods}
	for i := len(lists) - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		lists[i], lists[j] = lists[j], lists[i]
	}
	return fmt.Sprintf("%s-%s-%s-%s",
		lists[0][randomIndex(len(lists[0]))],
		lists[1][randomIndex(len(lists[1]))],
		lists[2][randomIndex(len(lists[2]))],
		lists[3][randomIndex(len(lists[3]))],
	)
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return int(n.Int64())
}

// NewStreamName returns a memorable stream name no live room is using.
func (h *Hub) NewStreamName(ctx context.Context) (string, error) {
	var name string
	err := h.do(ctx, func() {
		for {
			name = streamName()
			if _, ok := h.rooms[name]; !ok {
				return
			}
		}
	})
	return name, err
}
