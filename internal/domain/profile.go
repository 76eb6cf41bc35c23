package domain

import "time"

// LibraryProfile 已建档的库指纹（语料库条目）。
// 指纹本体以 JSON 存储，写入后只读，匹配时整批快照加载。
type LibraryProfile struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(255);not null;uniqueIndex:uk_name_version" json:"name"`
	Version  string `gorm:"type:varchar(50);not null;uniqueIndex:uk_name_version" json:"version"`
	Category string `gorm:"type:varchar(50);index:idx_category" json:"category,omitempty"`

	// 结构概况（冗余存储，方便查询）
	RootPackage   string `gorm:"type:varchar(255)" json:"root_package,omitempty"`
	MultipleRoots bool   `gorm:"default:false" json:"multiple_roots"`
	ClassCount    int    `gorm:"default:0" json:"class_count"`
	PackageCount  int    `gorm:"default:0" json:"package_count"`

	// 完整指纹 JSON（包树 + 哈希树）
	FingerprintJSON string `gorm:"type:mediumtext" json:"-"`

	// 来源构件摘要
	SourceFile   string `gorm:"type:varchar(255)" json:"source_file,omitempty"`
	SourceSHA256 string `gorm:"type:varchar(64)" json:"source_sha256,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (LibraryProfile) TableName() string {
	return "library_profiles"
}
