package projects

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"p9e.in/wsm/models"
)

// Numberer allocates project numbers inside the creating transaction.
type Numberer interface {
	Next(tx *gorm.DB, prefix string, now time.Time) (string, error)
}

// NewNumberer returns the strategy named by the NUMBERING setting.
func NewNumberer(kind string) Numberer {
	if kind == "random" {
		return RandomNumberer{}
	}
	return CounterNumberer{}
}

// CounterNumberer hands out {PREFIX}-{0000} from a per-prefix counter row.
// The increment is a single UPDATE so concurrent creators serialize on the row.
type CounterNumberer struct{}

func (CounterNumberer) Next(tx *gorm.DB, prefix string, _ time.Time) (string, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ProjectCounter{Prefix: prefix, Value: 0}).Error; err != nil {
		return "", errors.Wrapf(err, "init counter %s", prefix)
	}
	if err := tx.Model(&models.ProjectCounter{}).
		Where("prefix = ?", prefix).
		Update("value", gorm.Expr("value + ?", 1)).Error; err != nil {
		return "", errors.Wrapf(err, "increment counter %s", prefix)
	}
	var c models.ProjectCounter
	if err := tx.Where("prefix = ?", prefix).First(&c).Error; err != nil {
		return "", errors.Wrapf(err, "read counter %s", prefix)
	}
	return fmt.Sprintf("%s-%04d", prefix, c.Value), nil
}

// RandomNumberer produces WSM-{YYYYMMDD}-{8 hex}, unique without coordination
// across instances. The prefix is ignored.
type RandomNumberer struct{}

func (RandomNumberer) Next(_ *gorm.DB, _ string, now time.Time) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("WSM-%s-%s", now.Format("20060102"), strings.ToUpper(id[:8])), nil
}
