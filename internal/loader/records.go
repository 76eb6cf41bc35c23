package loader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// recordReader 流式读取 JSONL 类记录，单行一个 ClassRecord。
// 大型构件的记录文件可达数百 MB，逐行解析避免整体载入内存。
type recordReader struct {
	file    *os.File
	scanner *bufio.Scanner
	lineNum int
}

func newRecordReader(filePath string) (*recordReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	// 单行缓冲上限 10MB，超大类的成员列表也装得下
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	return &recordReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// next 读取下一条记录，文件结束返回 io.EOF
func (r *recordReader) next() (ClassRecord, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec ClassRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return ClassRecord{}, fmt.Errorf("invalid class record at line %d: %w", r.lineNum, err)
		}
		return rec, nil
	}

	if err := r.scanner.Err(); err != nil {
		return ClassRecord{}, err
	}
	return ClassRecord{}, io.EOF
}

func (r *recordReader) close() error {
	return r.file.Close()
}

// readRecordLines 读取整个 JSONL 记录文件
func readRecordLines(path string) ([]ClassRecord, error) {
	reader, err := newRecordReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class records: %w", err)
	}
	defer reader.close()

	var records []ClassRecord
	for {
		rec, err := reader.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
