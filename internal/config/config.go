package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-perp-grid-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(c *models.Config) {
	if c.LatencySimulationMs == 0 {
		c.LatencySimulationMs = 1000
	}
	if c.NCloseOrders == 0 {
		c.NCloseOrders = 1
	}
	if c.ReplanTimeoutSec == 0 {
		c.ReplanTimeoutSec = 30
	}
	if c.FillCheckSec == 0 {
		c.FillCheckSec = 120
	}
	if c.PrintIntervalSec == 0 {
		c.PrintIntervalSec = 3600
	}
	if c.LockTimeoutSec == 0 {
		c.LockTimeoutSec = 300
	}
	if c.MaxCancelBatch == 0 {
		c.MaxCancelBatch = 6
	}
	if c.MaxCreateBatch == 0 {
		c.MaxCreateBatch = 4
	}
	if c.CreateDelayMs == 0 {
		c.CreateDelayMs = 1000
	}
}

// Validate 检查配置的内部一致性。配置非法时引擎不允许启动。
func Validate(c *models.Config) error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage 必须为正数: %v", c.Leverage)
	}
	if c.MaxLeverage < c.Leverage {
		return fmt.Errorf("max_leverage (%v) 不能小于 leverage (%v)", c.MaxLeverage, c.Leverage)
	}
	if c.QtyStep <= 0 || c.PriceStep <= 0 {
		return fmt.Errorf("qty_step 与 price_step 必须为正数")
	}
	if c.MinQty < 0 || c.MinCost < 0 {
		return fmt.Errorf("min_qty 与 min_cost 不能为负数")
	}
	if c.EmaSpan <= 0 {
		return fmt.Errorf("ema_span 必须为正整数: %d", c.EmaSpan)
	}
	if c.QtyPct <= 0 || c.QtyPct > 1 {
		return fmt.Errorf("qty_pct 必须在 (0, 1] 区间: %v", c.QtyPct)
	}
	if c.GridSpacing <= 0 {
		return fmt.Errorf("grid_spacing 必须为正数: %v", c.GridSpacing)
	}
	if c.DdownFactor < 0 {
		return fmt.Errorf("ddown_factor 不能为负数: %v", c.DdownFactor)
	}
	if c.MinMarkup < 0 || c.MarkupRange < 0 {
		return fmt.Errorf("min_markup 与 markup_range 不能为负数")
	}
	if c.NCloseOrders < 1 {
		return fmt.Errorf("n_close_orders 必须至少为 1: %d", c.NCloseOrders)
	}
	if c.StopLossPosPct < 0 || c.StopLossPosPct > 1 {
		return fmt.Errorf("stop_loss_pos_pct 必须在 [0, 1] 区间: %v", c.StopLossPosPct)
	}
	if !c.DoLong && !c.DoShrt {
		return fmt.Errorf("do_long 与 do_shrt 至少启用一个")
	}
	return nil
}
