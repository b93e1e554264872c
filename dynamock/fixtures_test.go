package dynamock

import (
	"github.com/nisimpson/dynamodel"
)

// Shop fixtures are stored as documents, so the schemas need no constructor.
func newShopSchemas(tableName string) []*dynamodel.Schema {
	product := dynamodel.MustSchema(tableName, []dynamodel.Attribute{
		dynamodel.Unicode("pk", dynamodel.HashKey()),
		dynamodel.Unicode("sk", dynamodel.RangeKey()),
		dynamodel.Unicode("kind", dynamodel.Default("product")),
		dynamodel.Unicode("name"),
		dynamodel.Number("price"),
		dynamodel.Unicode("category", dynamodel.Nullable()),
		dynamodel.UnicodeSet("tags", dynamodel.Nullable()),
		dynamodel.NumberSet("sizes", dynamodel.Nullable()),
		dynamodel.Binary("thumbnail", dynamodel.Nullable()),
		dynamodel.UTCDateTime("created", dynamodel.Nullable()),
		dynamodel.TTL("expires", dynamodel.Nullable()),
		dynamodel.Map("details", dynamodel.Nullable()),
	},
		dynamodel.WithDiscriminator("kind"),
		dynamodel.WithIndex(dynamodel.Index{Name: "by-category", HashKey: "category", RangeKey: "price"}),
		dynamodel.WithIndex(dynamodel.Index{Name: "by-name", HashKey: "pk", RangeKey: "name", Local: true, Projection: dynamodel.ProjectKeysOnly}),
	)

	order := dynamodel.MustSchema(tableName, []dynamodel.Attribute{
		dynamodel.Unicode("pk", dynamodel.HashKey()),
		dynamodel.Unicode("sk", dynamodel.RangeKey()),
		dynamodel.Unicode("kind", dynamodel.Default("order")),
		dynamodel.Unicode("status"),
		dynamodel.Number("total"),
		dynamodel.List("lines", dynamodel.Nullable()),
	},
		dynamodel.WithDiscriminator("kind"),
	)

	return []*dynamodel.Schema{product, order}
}

var (
	shopSchemas   = newShopSchemas("shop")
	productSchema = shopSchemas[0]
	orderSchema   = shopSchemas[1]
)

func newShopTable() *dynamodel.Table {
	table := dynamodel.NewTable("shop")
	table.Retry.Backoff = dynamodel.NoBackoff
	if err := table.Register(shopSchemas...); err != nil {
		panic(err)
	}
	return table
}
