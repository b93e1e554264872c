// Package dynamodel is a schema-driven object mapper over the AWS SDK for Go v2
// DynamoDB client.
//
// The library maps domain models onto DynamoDB items through declared
// attribute schemas, compiles typed conditions and update actions into
// DynamoDB expressions, and runs single-item, query, scan, batch and
// transactional operations with retries for throttled requests.
//
// # Key Concepts
//
// A Schema declares the attributes of a model, its primary key and its
// secondary indexes. Models implement the Model interface to move their
// fields in and out of Values, which the schema encodes through each
// attribute's codec:
//
//	var UserSchema = dynamodel.MustSchema("app",
//	    []dynamodel.Attribute{
//	        dynamodel.Unicode("pk", dynamodel.HashKey()),
//	        dynamodel.Unicode("sk", dynamodel.RangeKey()),
//	        dynamodel.Unicode("kind", dynamodel.Default("user")),
//	        dynamodel.Unicode("email"),
//	        dynamodel.UTCDateTime("created_at"),
//	    },
//	    dynamodel.WithDiscriminator("kind"),
//	    dynamodel.WithConstructor(func() dynamodel.Model { return new(User) }),
//	)
//
//	func (u *User) Schema() *dynamodel.Schema { return UserSchema }
//
//	func (u *User) MarshalValues(v dynamodel.Values) error {
//	    v["pk"], v["sk"], v["email"], v["created_at"] = "user#"+u.ID, "profile", u.Email, u.Created
//	    return nil
//	}
//
// # Basic Usage
//
//	table := dynamodel.NewTable("app")
//	_ = table.Register(UserSchema, TeamSchema)
//	db := table.Connect(ddb)
//
//	err := db.Save(ctx, user, dynamodel.WithCondition(dynamodel.AttributeNotExists("pk")))
//	m, err := db.Get(ctx, UserSchema, "user#42", "profile")
//
// Every request can also be built without a client through the Marshal
// methods of Table, such as MarshalPut and MarshalQuery.
//
// # Polymorphic Tables
//
// Schemas sharing a table may register a discriminator value. Reads dispatch
// each item to the model registered for its discriminator, so a query over a
// partition holding users and teams returns both model types.
//
// # Querying
//
// Query and Scan return lazy Results that fetch pages on demand:
//
//	results := db.Query(UserSchema, dynamodel.Query{
//	    HashValue:         "user#42",
//	    RangeKeyCondition: dynamodel.BeginsWith("sk", "order#"),
//	})
//	for m, err := range results.All(ctx) {
//	    ...
//	}
//
// # Pagination
//
// Continuation keys can be handed to clients as opaque tokens, or stored in
// the table itself under short cursors:
//
//	paginator := db.Paginator(UserSchema)
//	cursor, err := paginator.PageCursor(ctx, results.LastEvaluatedKey())
//	startKey, err := paginator.StartKey(ctx, cursor)
package dynamodel
