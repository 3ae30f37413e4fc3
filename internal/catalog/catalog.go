package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Catalog 保存演示用的供应商与达人数据。
type Catalog struct {
	Suppliers   []Supplier   `json:"suppliers"`
	Influencers []Influencer `json:"influencers"`
	now         func() time.Time
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func prices(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = price(v)
	}
	return out
}

// Default 返回内置种子数据。
func Default() *Catalog {
	return &Catalog{
		Suppliers: []Supplier{
			{
				Name: "GlobalTextiles Co", Product: "Cotton T-Shirts (100 units)",
				CurrentPrice: price("14.50"), TargetPrice: price("18.00"),
				HistoricalPrices: prices("16.00", "15.50", "15.00", "14.80", "14.50"),
				Wallet:           "0xSUPPLIER_TEXTILES_WALLET",
			},
			{
				Name: "PackagePro", Product: "Eco-Friendly Mailers (500 units)",
				CurrentPrice: price("225.00"), TargetPrice: price("250.00"),
				HistoricalPrices: prices("240.00", "235.00", "230.00", "228.00", "225.00"),
				Wallet:           "0xSUPPLIER_PACKAGING_WALLET",
			},
			{
				Name: "PrintMasters", Product: "Custom Labels (1000 units)",
				CurrentPrice: price("85.00"), TargetPrice: price("80.00"),
				HistoricalPrices: prices("82.00", "84.00", "85.00", "86.00", "85.00"),
				Wallet:           "0xSUPPLIER_PRINT_WALLET",
			},
		},
		Influencers: []Influencer{
			{Handle: "creativevibes", Platform: "Instagram", Followers: 45000, EngagementRate: 4.2,
				Niche: "Lifestyle/Fashion", RequestedRate: price("50"), Wallet: "0xINFLUENCER_CREATIVE_WALLET"},
			{Handle: "techreview_mike", Platform: "YouTube", Followers: 120000, EngagementRate: 3.8,
				Niche: "Tech Reviews", RequestedRate: price("150"), Wallet: "0xINFLUENCER_TECH_WALLET"},
			{Handle: "artisan_goods", Platform: "TikTok", Followers: 28000, EngagementRate: 6.1,
				Niche: "Handmade/Crafts", RequestedRate: price("35"), Wallet: "0xINFLUENCER_ARTISAN_WALLET"},
		},
		now: time.Now,
	}
}

// Load 从 JSON 文件加载种子数据，路径为空时返回内置数据。
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取种子数据失败: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, fmt.Errorf("解析种子数据失败: %w", err)
	}
	for _, s := range c.Suppliers {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("供应商 %q 无效: %w", s.Name, err)
		}
	}
	for _, i := range c.Influencers {
		if err := i.Validate(); err != nil {
			return nil, fmt.Errorf("达人 %q 无效: %w", i.Handle, err)
		}
	}
	c.now = time.Now
	return &c, nil
}

// RandomSupplier 随机返回一条报价。
func (c *Catalog) RandomSupplier() (Supplier, bool) {
	if len(c.Suppliers) == 0 {
		return Supplier{}, false
	}
	return c.Suppliers[rand.IntN(len(c.Suppliers))], true
}

// RandomInfluencer 随机返回一位达人。
func (c *Catalog) RandomInfluencer() (Influencer, bool) {
	if len(c.Influencers) == 0 {
		return Influencer{}, false
	}
	return c.Influencers[rand.IntN(len(c.Influencers))], true
}

// Payload 返回付费资源解锁后的数据：达人资料、供应商实时报价，其他资源返回 {"status":"ok"}。
func (c *Catalog) Payload(resourceID string) any {
	switch {
	case strings.Contains(resourceID, "/influencer"):
		profiles := make([]map[string]any, 0, len(c.Influencers))
		for _, inf := range c.Influencers {
			profiles = append(profiles, map[string]any{
				"handle":         inf.Handle,
				"platform":       inf.Platform,
				"followers":      inf.Followers,
				"engagementRate": inf.EngagementRate,
				"niche":          inf.Niche,
				"rate":           inf.RequestedRate,
				"walletAddress":  inf.Wallet,
			})
		}
		return map[string]any{
			"influencers": profiles,
			"accessLevel": "premium",
			"retrievedAt": c.now().UTC().Format(time.RFC3339),
		}
	case strings.Contains(resourceID, "/supplier"):
		quotes := make([]map[string]any, 0, len(c.Suppliers))
		for _, s := range c.Suppliers {
			quotes = append(quotes, map[string]any{
				"name":         s.Name,
				"product":      s.Product,
				"currentPrice": s.CurrentPrice,
			})
		}
		return map[string]any{
			"suppliers":      quotes,
			"priceUpdatedAt": c.now().UTC().Format(time.RFC3339),
		}
	default:
		return map[string]any{"status": "ok"}
	}
}
