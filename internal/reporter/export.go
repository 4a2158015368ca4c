package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"binance-perp-grid-go/internal/backtest"
)

// ExportResult 将成交日志与权益采样写成JSON文件，
// 供跨实现比对或重复运行校验使用。序列化是确定性的。
func ExportResult(outputDir string, res *backtest.Result) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("无法创建输出目录 %s: %v", outputDir, err)
	}

	if err := writeJSON(filepath.Join(outputDir, "fills.json"), res.Fills); err != nil {
		return err
	}
	return writeJSON(filepath.Join(outputDir, "stats.json"), res.Stats)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %v", path, err)
	}
	return nil
}
