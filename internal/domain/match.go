package domain

import "time"

// LibraryMatch 单条命中记录：某任务的查询构件里检出了某个库版本
type LibraryMatch struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID string `gorm:"type:varchar(36);not null;index:idx_task_id" json:"task_id"`

	LibraryName    string `gorm:"type:varchar(255);not null" json:"library_name"`
	LibraryVersion string `gorm:"type:varchar(50);not null" json:"library_version"`
	Category       string `gorm:"type:varchar(50)" json:"category,omitempty"`

	Score          float64 `gorm:"type:decimal(6,5)" json:"score"`
	PathScore      float64 `gorm:"type:decimal(6,5)" json:"path_score,omitempty"`
	MatchedClasses int     `gorm:"default:0" json:"matched_classes"`
	Method         string  `gorm:"type:varchar(20)" json:"method"` // exact / partial
	Rank           int     `gorm:"default:0" json:"rank"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (LibraryMatch) TableName() string {
	return "library_matches"
}
