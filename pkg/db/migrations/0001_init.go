package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Job struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Tags      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Run struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	JobID              uuid.UUID  `gorm:"type:uuid;not null;index"`
	Status             string     `gorm:"type:text;not null"`
	ExternalHandle     string     `gorm:"type:text"`
	ResultsLocation    *string    `gorm:"type:text"`
	ResultsPublishedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt          time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Job                Job        `gorm:"foreignKey:JobID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type OrphanArtifact struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Location  string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Job{},
		&Run{},
		&OrphanArtifact{},
	); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().CreateConstraint(&Run{}, "Job")
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&OrphanArtifact{},
		&Run{},
		&Job{},
	)
}
