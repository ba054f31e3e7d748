package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var mongoClient *mongo.Client
var mongoDB *mongo.Database

// InitMongoDB initializes MongoDB connection
func InitMongoDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(configs.MONGO_URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mongoClient = client
	mongoDB = client.Database(configs.MONGO_DB_NAME)

	common.Logger().Info("✅ Connected to MongoDB", zap.String("database", configs.MONGO_DB_NAME))
	return nil
}

// GetMongoDB returns the MongoDB database instance
func GetMongoDB() *mongo.Database {
	return mongoDB
}

// CloseMongoDB closes MongoDB connection
func CloseMongoDB() {
	if mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			common.Logger().Warn("MongoDB disconnect failed", zap.Error(err))
			return
		}
		common.Logger().Info("MongoDB connection closed")
	}
}

// medicineDocument accepts both the dataset field names and the older
// medicine schema (brandNames, sideEffects) found in existing collections.
type medicineDocument struct {
	Name             string   `bson:"name"`
	Manufacturer     string   `bson:"manufacturer"`
	Price            string   `bson:"price"`
	Substitutes      []string `bson:"substitutes"`
	BrandNames       []string `bson:"brandNames"`
	Uses             []string `bson:"uses"`
	SideEffects      []string `bson:"side_effects"`
	SideEffectsAlt   []string `bson:"sideEffects"`
	ChemicalClass    string   `bson:"chemical_class"`
	TherapeuticClass string   `bson:"therapeutic_class"`
	ActionClass      string   `bson:"action_class"`
	HabitForming     string   `bson:"habit_forming"`
	ImageURL         string   `bson:"image_url"`
}

func (d medicineDocument) toMedicine() Medicine {
	med := Medicine{
		Name:             d.Name,
		Manufacturer:     d.Manufacturer,
		Price:            d.Price,
		Substitutes:      d.Substitutes,
		Uses:             d.Uses,
		SideEffects:      d.SideEffects,
		ChemicalClass:    d.ChemicalClass,
		TherapeuticClass: d.TherapeuticClass,
		ActionClass:      d.ActionClass,
		HabitForming:     d.HabitForming,
		ImageURL:         d.ImageURL,
	}
	if len(med.Substitutes) == 0 {
		med.Substitutes = d.BrandNames
	}
	if len(med.SideEffects) == 0 {
		med.SideEffects = d.SideEffectsAlt
	}
	return med
}

// MongoSource loads the catalogue from a medicines collection.
type MongoSource struct {
	collection *mongo.Collection
}

// NewMongoSource wraps an existing collection handle.
func NewMongoSource(collection *mongo.Collection) *MongoSource {
	return &MongoSource{collection: collection}
}

func (s *MongoSource) Name() string { return "mongo" }

// Load reads every medicine document.
func (s *MongoSource) Load(ctx context.Context) ([]Medicine, error) {
	if s.collection == nil {
		return nil, fmt.Errorf("medicine collection is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{"name": bson.M{"$exists": true, "$ne": ""}})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.collection.Name(), err)
	}
	defer cursor.Close(ctx)

	var docs []medicineDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode medicines: %w", err)
	}

	medicines := make([]Medicine, 0, len(docs))
	for _, d := range docs {
		medicines = append(medicines, d.toMedicine())
	}
	return medicines, nil
}

// SeedMedicines upserts medicines by name in batches and returns how many
// documents were inserted or modified.
func SeedMedicines(ctx context.Context, collection *mongo.Collection, medicines []Medicine, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var written int64
	for start := 0; start < len(medicines); start += batchSize {
		end := start + batchSize
		if end > len(medicines) {
			end = len(medicines)
		}

		models := make([]mongo.WriteModel, 0, end-start)
		for _, med := range medicines[start:end] {
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"name": med.Name}).
				SetReplacement(med).
				SetUpsert(true))
		}

		result, err := collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		if err != nil {
			return written, fmt.Errorf("failed to seed medicines %d-%d: %w", start, end, err)
		}
		written += result.UpsertedCount + result.ModifiedCount
	}
	return written, nil
}

// EnsureMedicineIndexes creates the unique name index used by seeding.
func EnsureMedicineIndexes(ctx context.Context, collection *mongo.Collection) error {
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create name index: %w", err)
	}
	return nil
}
