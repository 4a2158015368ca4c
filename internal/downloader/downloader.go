// Package downloader 负责拉取回测所需的历史聚合成交数据，
// 以 CSV 形式落盘缓存，避免重复下载。
package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
)

// TickDownloader 用于从币安下载逐笔聚合成交数据。
type TickDownloader struct {
	client *binance.Client
}

// NewTickDownloader 创建一个新的下载器实例。
func NewTickDownloader() *TickDownloader {
	return &TickDownloader{
		client: binance.NewClient("", ""), // 公共接口不需要API Key
	}
}

// DownloadAggTrades 下载指定交易对和时间范围内的聚合成交，保存到CSV文件。
// 如果文件已存在，则跳过下载，直接使用缓存。
func (d *TickDownloader) DownloadAggTrades(symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		fmt.Printf("从缓存加载数据: %s\n", filePath)
		return nil
	}

	fmt.Printf("开始下载 %s 从 %s 到 %s 的聚合成交数据...\n",
		symbol, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"agg_trade_id", "price", "qty", "timestamp", "is_buyer_maker"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %v", err)
	}

	// 第一页按时间请求，之后按成交 ID 连续翻页，保证不漏不重
	var fromID int64 = -1
	endMs := endTime.UnixMilli()
	for {
		svc := d.client.NewAggTradesService().Symbol(symbol).Limit(1000)
		if fromID < 0 {
			svc = svc.StartTime(startTime.UnixMilli())
		} else {
			svc = svc.FromID(fromID)
		}
		trades, err := svc.Do(context.Background())
		if err != nil {
			return fmt.Errorf("下载聚合成交失败: %v", err)
		}
		if len(trades) == 0 {
			break
		}

		done := false
		for _, t := range trades {
			if t.Timestamp > endMs {
				done = true
				break
			}
			record := []string{
				strconv.FormatInt(t.AggTradeID, 10),
				t.Price,
				t.Quantity,
				strconv.FormatInt(t.Timestamp, 10),
				strconv.FormatBool(t.IsBuyerMaker),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %v", err)
			}
		}
		if done {
			break
		}

		fromID = trades[len(trades)-1].AggTradeID + 1
		fmt.Printf("已下载数据至 %s\n",
			time.UnixMilli(trades[len(trades)-1].Timestamp).Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond) // 避免过于频繁的请求
	}

	fmt.Printf("成功下载聚合成交数据到 %s\n", filePath)
	return nil
}
