package billing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lucledger/internal/model"
	"lucledger/internal/repository"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// 文件变更去抖间隔
const fileReloadDebounce = 200 * time.Millisecond

var ErrInvalidPrice = errors.New("invalid price override")

// pricingFile 覆盖价格文件格式:
//
//	[overrides."gpt-4o"]
//	input_per_mtok = 2.5
//	output_per_mtok = 10.0
type pricingFile struct {
	Overrides map[string]fileOverride `toml:"overrides"`
}

type fileOverride struct {
	InputPerMTok  *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok *float64 `toml:"output_per_mtok,omitempty"`
}

// PriceStore 管理覆盖价格表，数据库条目优先于文件条目
type PriceStore struct {
	mu         sync.RWMutex
	dbPrices   map[string]ModelPrice
	filePrices map[string]ModelPrice
	repo       repository.PricingRepositoryInterface

	filePath      string
	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	stopChan      chan struct{}
	stopOnce      sync.Once
}

func NewPriceStore(repo repository.PricingRepositoryInterface) *PriceStore {
	return &PriceStore{
		dbPrices:   make(map[string]ModelPrice),
		filePrices: make(map[string]ModelPrice),
		repo:       repo,
		stopChan:   make(chan struct{}),
	}
}

// GetPrice 获取模型覆盖价格
func (s *PriceStore) GetPrice(modelName string) (PriceData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.dbPrices[modelName]; ok {
		return p.PriceData, true
	}
	if p, ok := s.filePrices[modelName]; ok {
		return p.PriceData, true
	}
	return PriceData{}, false
}

// ListPrices 返回合并后的价格表，按模型名排序
func (s *PriceStore) ListPrices() []ModelPrice {
	s.mu.RLock()
	merged := make(map[string]ModelPrice, len(s.dbPrices)+len(s.filePrices))
	for k, v := range s.filePrices {
		merged[k] = v
	}
	for k, v := range s.dbPrices {
		merged[k] = v
	}
	s.mu.RUnlock()

	prices := make([]ModelPrice, 0, len(merged))
	for _, p := range merged {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Model < prices[j].Model })
	return prices
}

// LoadFromDB 从数据库加载覆盖价格，整体替换内存中的数据库条目
func (s *PriceStore) LoadFromDB(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	rows, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	prices := make(map[string]ModelPrice, len(rows))
	for _, row := range rows {
		mp, ok := fromRow(row)
		if !ok {
			continue
		}
		prices[mp.Model] = mp
	}

	s.mu.Lock()
	s.dbPrices = prices
	s.mu.Unlock()

	log.Infof("pricing: loaded %d overrides from database", len(prices))
	return nil
}

// SetPrice 写入数据库后更新内存
func (s *PriceStore) SetPrice(ctx context.Context, modelName string, input, output *float64) (ModelPrice, error) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return ModelPrice{}, fmt.Errorf("%w: model name is required", ErrInvalidPrice)
	}
	if input == nil && output == nil {
		return ModelPrice{}, fmt.Errorf("%w: at least one of input or output cost is required", ErrInvalidPrice)
	}
	if (input != nil && *input < 0) || (output != nil && *output < 0) {
		return ModelPrice{}, fmt.Errorf("%w: cost must not be negative", ErrInvalidPrice)
	}

	row := &model.ModelPricing{
		Model:                   modelName,
		InputCostPerMillionUSD:  input,
		OutputCostPerMillionUSD: output,
		Source:                  PriceSourceManual,
	}
	if s.repo != nil {
		if err := s.repo.Upsert(ctx, row); err != nil {
			return ModelPrice{}, err
		}
	} else {
		row.UpdatedAt = time.Now().UTC()
	}

	mp, _ := fromRow(row)
	s.mu.Lock()
	s.dbPrices[modelName] = mp
	s.mu.Unlock()
	return mp, nil
}

func (s *PriceStore) DeletePrice(ctx context.Context, modelName string) error {
	if s.repo != nil {
		if err := s.repo.Delete(ctx, modelName); err != nil {
			return err
		}
	}
	s.mu.Lock()
	delete(s.dbPrices, modelName)
	s.mu.Unlock()
	return nil
}

func fromRow(row *model.ModelPricing) (ModelPrice, bool) {
	if row.InputCostPerMillionUSD == nil && row.OutputCostPerMillionUSD == nil {
		return ModelPrice{}, false
	}
	mp := ModelPrice{
		Model:     row.Model,
		Source:    row.Source,
		UpdatedAt: row.UpdatedAt,
	}
	if row.InputCostPerMillionUSD != nil {
		mp.PriceData.InputCostPerMillion = *row.InputCostPerMillionUSD
	}
	if row.OutputCostPerMillionUSD != nil {
		mp.PriceData.OutputCostPerMillion = *row.OutputCostPerMillionUSD
	}
	return mp, true
}

// LoadFile 读取 TOML 覆盖价格文件，整体替换内存中的文件条目
func (s *PriceStore) LoadFile(path string) error {
	var pf pricingFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return fmt.Errorf("pricing: decode %s: %w", path, err)
	}

	info, err := os.Stat(path)
	modTime := time.Now().UTC()
	if err == nil {
		modTime = info.ModTime().UTC()
	}

	prices := make(map[string]ModelPrice, len(pf.Overrides))
	for name, o := range pf.Overrides {
		mp, ok := fromRow(&model.ModelPricing{
			Model:                   name,
			InputCostPerMillionUSD:  o.InputPerMTok,
			OutputCostPerMillionUSD: o.OutputPerMTok,
			Source:                  PriceSourceFile,
			UpdatedAt:               modTime,
		})
		if !ok {
			log.Warnf("pricing: override %q in %s has no prices, skipped", name, path)
			continue
		}
		prices[name] = mp
	}

	s.mu.Lock()
	s.filePrices = prices
	s.filePath = path
	s.mu.Unlock()

	log.Infof("pricing: loaded %d overrides from %s", len(prices), path)
	return nil
}

// Watch 监听价格文件变更并自动重新加载
func (s *PriceStore) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// 监听目录以捕获编辑器的 rename/create 写法
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}
	s.watcher = watcher

	go s.watchLoop(path)
	return nil
}

func (s *PriceStore) watchLoop(path string) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			s.mu.Lock()
			if s.debounceTimer != nil {
				s.debounceTimer.Stop()
			}
			s.debounceTimer = time.AfterFunc(fileReloadDebounce, func() {
				if err := s.LoadFile(path); err != nil {
					log.Warnf("pricing: reload failed, keeping previous overrides: %v", err)
				}
			})
			s.mu.Unlock()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("pricing: watcher error: %v", err)

		case <-s.stopChan:
			return
		}
	}
}

// Stop 停止文件监听
func (s *PriceStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		s.mu.Unlock()
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
}
