package convo

import (
	"context"
	"errors"
	"sort"
	"strings"

	"bot-financas/internal/confirm"
	"bot-financas/internal/nlu"
	"bot-financas/internal/repo"
)

// minSimilarity is the lowest token overlap accepted as the same product.
const minSimilarity = 0.5

type scoredProduct struct {
	Product repo.Product
	Score   float64
}

// snapshotFromIntent builds the pending context payload for an identified product
// and prices it from the user's catalogue when a match exists.
func (e *Engine) snapshotFromIntent(ctx context.Context, userID string, in *nlu.Intent) confirm.ProductSnapshot {
	snap := confirm.ProductSnapshot{
		Name:       in.ProductName,
		Confidence: in.Confidence,
		Category:   in.Category,
		Raw: map[string]any{
			"intencao":  in.Intent,
			"categoria": in.Category,
			"descricao": in.Description,
		},
	}
	if in.Price.Positive() {
		v := in.Price.Value.Round(2)
		snap.Price = &v
	} else if in.Amount.Positive() {
		v := in.Amount.Value.Round(2)
		snap.Price = &v
	}

	match, similarity := e.matchProduct(ctx, userID, in.ProductName)
	if match == nil {
		return snap
	}
	id := match.ID
	snap.ProductID = &id
	snap.Similarity = similarity
	snap.RegisteredPrice = match.Price
	if snap.Category == "" {
		snap.Category = match.Category
	}
	return snap
}

func (e *Engine) matchProduct(ctx context.Context, userID, name string) (*repo.Product, float64) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, 0
	}
	exact, err := e.repo.FindProductByName(ctx, userID, name)
	if err == nil {
		return exact, 1
	}
	if !errors.Is(err, repo.ErrNotFound) {
		e.logger.Warn("product lookup failed", "user_id", userID, "error", err)
		return nil, 0
	}

	catalogue, err := e.repo.ListProducts(ctx, userID)
	if err != nil {
		e.logger.Warn("list products failed", "user_id", userID, "error", err)
		return nil, 0
	}
	ranked := rankProducts(catalogue, name)
	if len(ranked) == 0 || ranked[0].Score < minSimilarity {
		return nil, 0
	}
	best := ranked[0].Product
	return &best, ranked[0].Score
}

// rankProducts orders the catalogue by token overlap with query, best first.
// Products sharing no token are left out.
func rankProducts(items []repo.Product, query string) []scoredProduct {
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return nil
	}
	var scored []scoredProduct
	for _, item := range items {
		if score := matchScore(item, tokens); score > 0 {
			scored = append(scored, scoredProduct{Product: item, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return len(scored[i].Product.Name) < len(scored[j].Product.Name)
		}
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// matchScore is the share of query tokens found in the product name, with
// half credit for tokens only found in the category.
func matchScore(item repo.Product, tokens []string) float64 {
	nameTokens := map[string]struct{}{}
	for _, t := range tokenizeQuery(item.Name) {
		nameTokens[t] = struct{}{}
	}
	category := strings.ToLower(item.Category)

	var score float64
	for _, token := range tokens {
		if _, ok := nameTokens[token]; ok {
			score++
			continue
		}
		if category != "" && strings.Contains(category, token) {
			score += 0.5
		}
	}
	return score / float64(len(tokens))
}

var stopwords = map[string]struct{}{
	"de": {}, "da": {}, "do": {}, "das": {}, "dos": {}, "com": {}, "para": {}, "e": {}, "o": {}, "a": {},
}

func tokenizeQuery(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	query = strings.NewReplacer(".", " ", ",", " ", "-", " ", "/", " ").Replace(query)
	raw := strings.Fields(query)
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		if _, skip := stopwords[token]; skip {
			continue
		}
		out = append(out, token)
	}
	return out
}
