package storage

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matst80/woof/pkg/common/jsoncompat"
	"github.com/matst80/woof/pkg/types"
)

const (
	sourcesFile = "sources.json"
	samplesDir  = "samples"
)

// DiskStorage keeps sources in one json file and samples in an append only
// log per day under RootFolder.
type DiskStorage struct {
	mu         sync.Mutex
	RootFolder string
}

func NewDiskStorage(rootFolder string) *DiskStorage {
	return &DiskStorage{
		RootFolder: rootFolder,
	}
}

func (d *DiskStorage) file(name string) string {
	return filepath.Join(d.RootFolder, name)
}

func (d *DiskStorage) sampleFile(name string) string {
	return filepath.Join(d.RootFolder, samplesDir, name)
}

func sampleFileName(day time.Time) string {
	return fmt.Sprintf("samples-%s.jsonl", day.UTC().Format("20060102"))
}

func (d *DiskStorage) LoadSources() ([]types.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sources := make([]types.Source, 0)
	err := d.loadJson(&sources, sourcesFile)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("no sources file in %s, starting empty", d.RootFolder)
		return sources, nil
	}
	return sources, err
}

func (d *DiskStorage) SaveSources(sources []types.Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveJson(sources, sourcesFile)
}

// saveJson writes to a temporary file first so a crash never leaves a half
// written file behind.
func (d *DiskStorage) saveJson(data any, name string) error {
	target := d.file(name)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	body, err := jsoncompat.Marshal(data)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", target, time.Now().UnixMilli())
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

func (d *DiskStorage) loadJson(data any, name string) error {
	body, err := os.ReadFile(d.file(name))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return jsoncompat.Unmarshal(body, data)
}

func dayOf(ts int64) time.Time {
	return time.UnixMilli(ts).UTC().Truncate(24 * time.Hour)
}

// AppendSamples writes samples to the log file of the day they belong to, one
// json document per line.
func (d *DiskStorage) AppendSamples(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	byFile := make(map[string][]types.Sample)
	for _, s := range samples {
		name := d.sampleFile(sampleFileName(dayOf(s.Timestamp)))
		byFile[name] = append(byFile[name], s)
	}
	for name, batch := range byFile {
		if err := appendLines(name, batch); err != nil {
			return err
		}
	}
	return nil
}

func appendLines(name string, batch []types.Sample) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	for _, s := range batch {
		line, err := jsoncompat.Marshal(s)
		if err != nil {
			file.Close()
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err = w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (d *DiskStorage) sampleFiles() ([]string, error) {
	dir := filepath.Join(d.RootFolder, samplesDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "samples-") || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		ret = append(ret, e.Name())
	}
	slices.Sort(ret)
	return ret, nil
}

func fileDay(name string) (time.Time, bool) {
	day := strings.TrimSuffix(strings.TrimPrefix(name, "samples-"), ".jsonl")
	t, err := time.Parse("20060102", day)
	return t, err == nil
}

func (d *DiskStorage) LoadSamples(from, to int64, handle func(types.Sample)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	files, err := d.sampleFiles()
	if err != nil {
		return err
	}
	first, last := dayOf(from), dayOf(to)
	for _, name := range files {
		day, ok := fileDay(name)
		if !ok || day.Before(first) || day.After(last) {
			continue
		}
		if err := readLines(d.sampleFile(name), from, to, handle); err != nil {
			return err
		}
	}
	return nil
}

func readLines(name string, from, to int64, handle func(types.Sample)) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s types.Sample
		if err := jsoncompat.Unmarshal(line, &s); err != nil {
			log.Printf("skipping broken sample line in %s: %v", name, err)
			continue
		}
		if s.Timestamp >= from && s.Timestamp < to {
			handle(s)
		}
	}
	return scanner.Err()
}

// PruneSamples removes whole day files that end before the cutoff.
func (d *DiskStorage) PruneSamples(before int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	files, err := d.sampleFiles()
	if err != nil {
		return err
	}
	cutoff := time.UnixMilli(before).UTC()
	for _, name := range files {
		day, ok := fileDay(name)
		if !ok || day.Add(24*time.Hour).After(cutoff) {
			continue
		}
		log.Printf("pruning sample log %s", name)
		if err := os.Remove(d.sampleFile(name)); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}
