package databases

// go generate: mockery --name OperatorDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aett-tours/tours-api/models"
)

const operatorName = "operators"

// OperatorDatabase contains the methods to use with the operator database
type OperatorDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Operator, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
}

type operatorDatabase struct {
	db DatabaseHelper
}

// NewOperatorDatabase initializes a new instance of operator database with the provided db connection
func NewOperatorDatabase(db DatabaseHelper) OperatorDatabase {
	return &operatorDatabase{
		db: db,
	}
}

func (o *operatorDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Operator, error) {
	operator := &models.Operator{}
	err := o.db.Collection(operatorName).FindOne(ctx, filter, opts...).Decode(&operator)
	if err != nil {
		return nil, err
	}
	return operator, nil
}

func (o *operatorDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return o.db.Collection(operatorName).InsertOne(ctx, document, opts...)
}
