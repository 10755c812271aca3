package databases

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoPaginate struct {
	limit int64
	page  int64
}

func newMongoPaginate(limit, page int) *mongoPaginate {
	if page < 1 {
		page = 1
	}
	return &mongoPaginate{
		limit: int64(limit),
		page:  int64(page),
	}
}

func (mp *mongoPaginate) getPaginatedOpts() *options.FindOptions {
	l := mp.limit
	skip := mp.page*mp.limit - mp.limit
	fOpt := options.FindOptions{Limit: &l, Skip: &skip}

	return &fOpt
}

// ChronologicalOpts sorts oldest first. A limit of zero returns every
// document, otherwise the 1-based page of that size is returned.
func ChronologicalOpts(limit, page int) *options.FindOptions {
	opts := options.Find()
	if limit > 0 {
		opts = newMongoPaginate(limit, page).getPaginatedOpts()
	}
	// _id breaks ties between messages created in the same millisecond
	return opts.SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
}
