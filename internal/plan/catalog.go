package plan

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrPlanNotFound    = errors.New("订阅套餐不存在")
	ErrPackageNotFound = errors.New("加油包不存在")
)

// Tier 套餐等级
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Rank 套餐等级序号，用于升降级判定：free=0 < basic=1 < pro=2 < enterprise=3
func (t Tier) Rank() int {
	switch t {
	case TierBasic:
		return 1
	case TierPro:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// Valid 是否为已知等级
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Period 计费周期
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Months 周期对应的月数
func (p Period) Months() int {
	if p == PeriodYearly {
		return 12
	}
	return 1
}

// Plan 套餐定义（静态目录，只读）
type Plan struct {
	Tier                   Tier    `yaml:"tier" json:"tier"`
	Name                   string  `yaml:"name" json:"name"`
	PriceMonthly           float64 `yaml:"price_monthly" json:"priceMonthly"`
	PriceYearly            float64 `yaml:"price_yearly" json:"priceYearly"`
	MonthlyImageLimit      int     `yaml:"monthly_image_limit" json:"monthlyImageLimit"`
	MonthlyVideoAudioLimit int     `yaml:"monthly_video_audio_limit" json:"monthlyVideoAudioLimit"`
	DailyExternalLimit     int     `yaml:"daily_external_limit" json:"dailyExternalLimit"`
}

// PeriodPrice 周期总价
func (p *Plan) PeriodPrice(period Period) float64 {
	if period == PeriodYearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}

// DailyPrice 按 30 天折算的日单价（分以下舍入）
func (p *Plan) DailyPrice() float64 {
	return Round2(p.PriceMonthly / 30)
}

// AddonPackage 加油包定义（一次性购买，永久积分）
type AddonPackage struct {
	ID                string  `yaml:"id" json:"id"`
	Name              string  `yaml:"name" json:"name"`
	ImageCredits      int     `yaml:"image_credits" json:"imageCredits"`
	VideoAudioCredits int     `yaml:"video_audio_credits" json:"videoAudioCredits"`
	Price             float64 `yaml:"price" json:"price"`
}

// Catalog 套餐目录
type Catalog struct {
	plans  map[Tier]*Plan
	addons map[string]*AddonPackage
}

type catalogFile struct {
	Plans         []Plan         `yaml:"plans"`
	AddonPackages []AddonPackage `yaml:"addon_packages"`
}

// Load 从 YAML 文件加载套餐目录
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取套餐目录失败: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析套餐目录失败: %w", err)
	}

	return NewCatalog(file.Plans, file.AddonPackages)
}

// NewCatalog 从内存定义构建目录
func NewCatalog(plans []Plan, addons []AddonPackage) (*Catalog, error) {
	c := &Catalog{
		plans:  make(map[Tier]*Plan, len(plans)),
		addons: make(map[string]*AddonPackage, len(addons)),
	}

	for i := range plans {
		p := plans[i]
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("未知的套餐等级: %s", p.Tier)
		}
		c.plans[p.Tier] = &p
	}

	// 四个等级必须齐全，免费档是钱包播种与失效回退的基础
	for _, tier := range []Tier{TierFree, TierBasic, TierPro, TierEnterprise} {
		if _, ok := c.plans[tier]; !ok {
			return nil, fmt.Errorf("套餐目录缺少等级: %s", tier)
		}
	}

	for i := range addons {
		a := addons[i]
		if a.ID == "" {
			return nil, errors.New("加油包缺少 id")
		}
		c.addons[a.ID] = &a
	}

	return c, nil
}

// Get 按等级获取套餐
func (c *Catalog) Get(tier Tier) (*Plan, error) {
	p, ok := c.plans[tier]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

// Free 免费档套餐
func (c *Catalog) Free() *Plan {
	return c.plans[TierFree]
}

// List 列出全部套餐（按等级升序）
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Tier.Rank() < out[j].Tier.Rank()
	})
	return out
}

// Addon 按 ID 获取加油包
func (c *Catalog) Addon(id string) (*AddonPackage, error) {
	a, ok := c.addons[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return a, nil
}

// ListAddons 列出全部加油包
func (c *Catalog) ListAddons() []AddonPackage {
	out := make([]AddonPackage, 0, len(c.addons))
	for _, a := range c.addons {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Round2 金额舍入到分
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
