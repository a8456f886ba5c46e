// Package tokens counts prompt tokens and trims context windows to a budget.
package tokens

import (
	"github.com/pkg/errors"
	"github.com/weaviate/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

type Counter interface {
	Count(text string) int
}

type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

var _ Counter = (*TiktokenCounter)(nil)

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "load tiktoken encoding %s", encoding)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// TrimToBudget drops items from the front until the summed token count fits
// in budget. The last item is always kept. A non-positive budget disables
// trimming.
func TrimToBudget(c Counter, items []string, budget int) []string {
	if c == nil || budget <= 0 || len(items) == 0 {
		return items
	}
	counts := make([]int, len(items))
	total := 0
	for i, it := range items {
		counts[i] = c.Count(it)
		total += counts[i]
	}
	start := 0
	for total > budget && start < len(items)-1 {
		total -= counts[start]
		start++
	}
	return items[start:]
}
