package downloader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"binance-perp-grid-go/internal/models"
)

// LoadTicks 从缓存的CSV文件中读取 tick 序列。
// 连续的同价同方向成交被压缩为一笔，时间戳必须单调不减。
func LoadTicks(filePath string) ([]models.Tick, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据文件 %s: %v", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil { // 跳过表头
		return nil, fmt.Errorf("读取CSV表头失败: %v", err)
	}

	var ticks []models.Tick
	var prevTs int64
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取CSV记录失败 (行 %d): %v", line, err)
		}
		line++
		if len(record) < 5 {
			return nil, fmt.Errorf("CSV记录字段不足 (行 %d)", line)
		}

		price, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("无法解析价格 %q (行 %d): %v", record[1], line, err)
		}
		ts, err := strconv.ParseInt(record[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("无法解析时间戳 %q (行 %d): %v", record[3], line, err)
		}
		isBuyerMaker, err := strconv.ParseBool(record[4])
		if err != nil {
			return nil, fmt.Errorf("无法解析成交方向 %q (行 %d): %v", record[4], line, err)
		}

		if ts < prevTs {
			return nil, fmt.Errorf("时间戳乱序 (行 %d): %d < %d", line, ts, prevTs)
		}
		prevTs = ts

		// 同价同方向的连续成交只保留第一笔
		if n := len(ticks); n > 0 &&
			ticks[n-1].Price == price && ticks[n-1].IsBuyerMaker == isBuyerMaker {
			continue
		}
		ticks = append(ticks, models.Tick{
			Price:        price,
			IsBuyerMaker: isBuyerMaker,
			Timestamp:    ts,
		})
	}
	return ticks, nil
}
