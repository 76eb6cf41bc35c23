package metadata

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
)

// libraryXML 库描述 XML 的文档结构
type libraryXML struct {
	XMLName     xml.Name `xml:"library"`
	Name        string   `xml:"name"`
	Category    string   `xml:"category"`
	Version     string   `xml:"version"`
	ReleaseDate string   `xml:"releasedate"`
	Comment     string   `xml:"comment"`
}

// 已知库类别
var validCategories = map[string]struct{}{
	"advertising":     {},
	"analytics":       {},
	"android":         {},
	"cloud":           {},
	"social_media":    {},
	"utilities":       {},
	"development_aid": {},
}

// ParseLibraryXML 解析库描述文件，返回规范化的库信息。
// name 和 version 必填，category 必须是已知类别之一。
func ParseLibraryXML(path string) (fingerprint.LibraryInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fingerprint.LibraryInfo{}, fmt.Errorf("failed to read library description: %w", err)
	}
	return ParseLibraryXMLBytes(data)
}

// ParseLibraryXMLBytes 从内存解析库描述
func ParseLibraryXMLBytes(data []byte) (fingerprint.LibraryInfo, error) {
	var doc libraryXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fingerprint.LibraryInfo{}, fmt.Errorf("failed to parse library description: %w", err)
	}

	info := fingerprint.LibraryInfo{
		Name:        strings.TrimSpace(doc.Name),
		Version:     strings.TrimSpace(doc.Version),
		Category:    strings.ToLower(strings.TrimSpace(doc.Category)),
		ReleaseDate: strings.TrimSpace(doc.ReleaseDate),
		Comment:     strings.TrimSpace(doc.Comment),
	}

	if info.Name == "" {
		return fingerprint.LibraryInfo{}, fmt.Errorf("library description missing name")
	}
	if info.Version == "" {
		return fingerprint.LibraryInfo{}, fmt.Errorf("library description missing version")
	}
	if info.Category != "" {
		if _, ok := validCategories[info.Category]; !ok {
			return fingerprint.LibraryInfo{}, fmt.Errorf("unknown library category: %s", info.Category)
		}
	}

	return info, nil
}

// ProfileFileName 指纹落盘/入库时使用的标识（空格替换为连字符）
func ProfileFileName(info fingerprint.LibraryInfo) string {
	return strings.ReplaceAll(info.Name, " ", "-") + "_" + info.Version
}
