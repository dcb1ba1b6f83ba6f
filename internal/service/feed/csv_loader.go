package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/krobus00/market-stream/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const csvFieldCount = 6

var ErrNoValidRecords = errors.New("no valid records")

// CSVDirectoryLoader loads one feed per *.csv file in Dir. The symbol is the
// upper-cased file name without extension.
type CSVDirectoryLoader struct {
	Dir string
}

func NewCSVDirectoryLoader(dir string) *CSVDirectoryLoader {
	return &CSVDirectoryLoader{Dir: dir}
}

func (l *CSVDirectoryLoader) LoadFeeds(ctx context.Context) ([]entity.SymbolFeed, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory %s: %w", l.Dir, err)
	}

	var feeds []entity.SymbolFeed
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}

		path := filepath.Join(l.Dir, e.Name())
		symbol := SymbolFromPath(path)

		records, err := ReadCSVFile(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"symbol": symbol,
				"path":   path,
			}).WithError(err).Error("failed to load data for symbol")
			continue
		}

		logrus.WithFields(logrus.Fields{
			"symbol":  symbol,
			"records": len(records),
		}).Info("loaded symbol feed")

		feeds = append(feeds, entity.SymbolFeed{Symbol: symbol, Records: records})
	}

	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].Symbol < feeds[j].Symbol
	})

	logrus.WithField("symbols", len(feeds)).Info("loaded feeds from data directory")
	return feeds, nil
}

// CSVFileLoader loads a single file as one symbol feed.
type CSVFileLoader struct {
	Path   string
	Symbol string
}

func NewCSVFileLoader(path string) *CSVFileLoader {
	return &CSVFileLoader{Path: path, Symbol: SymbolFromPath(path)}
}

func (l *CSVFileLoader) LoadFeeds(_ context.Context) ([]entity.SymbolFeed, error) {
	records, err := ReadCSVFile(l.Path)
	if err != nil {
		return nil, err
	}

	return []entity.SymbolFeed{{Symbol: l.Symbol, Records: records}}, nil
}

func SymbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

func ReadCSVFile(path string) ([]entity.MarketRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	return ReadCSV(file)
}

// ReadCSV parses date,open,high,low,close,volume rows. Invalid rows are
// skipped with a warning; a header row is skipped silently. Only input that
// has invalid rows and no valid row at all is an error.
func ReadCSV(r io.Reader) ([]entity.MarketRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var (
		records []entity.MarketRecord
		invalid int
		line    int
	)
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			invalid++
			logrus.WithField("line", line).WithError(err).Warn("skipping unreadable csv line")
			continue
		}
		if line == 1 && isHeader(fields) {
			continue
		}

		record, err := parseRecord(fields)
		if err != nil {
			invalid++
			logrus.WithField("line", line).WithError(err).Warn("skipping invalid csv line")
			continue
		}
		records = append(records, record)
	}

	if invalid > 0 && len(records) == 0 {
		return nil, fmt.Errorf("%w: %d invalid lines", ErrNoValidRecords, invalid)
	}
	if invalid > 0 {
		logrus.WithFields(logrus.Fields{
			"records": len(records),
			"invalid": invalid,
		}).Warn("loaded records with errors")
	}

	return records, nil
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "date")
}

func parseRecord(fields []string) (entity.MarketRecord, error) {
	if len(fields) != csvFieldCount {
		return entity.MarketRecord{}, fmt.Errorf("expected %d fields, got %d", csvFieldCount, len(fields))
	}

	values := make([]decimal.Decimal, 0, csvFieldCount-1)
	names := [...]string{"open", "high", "low", "close", "volume"}
	for i, name := range names {
		v, err := decimal.NewFromString(strings.TrimSpace(fields[i+1]))
		if err != nil {
			return entity.MarketRecord{}, fmt.Errorf("invalid %s %q: %w", name, fields[i+1], err)
		}
		values = append(values, v)
	}

	return entity.MarketRecord{
		Date:   strings.TrimSpace(fields[0]),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}
