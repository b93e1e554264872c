// Package dynamock provides testing utilities for the dynamodel library.
//
// This package includes:
//   - Expectation-based mock DynamoDB client for unit testing
//   - Local DynamoDB integration utilities that create tables from schemas
//   - Document builders with functional options
//   - Fixture seeding from JSON files
//
// # Mock Client
//
// The MockClient provides an expectation-based mock implementation where you set
// expectations for specific operations. Calls without an expectation fail the test:
//
//	mock := dynamock.NewMockClient(t)
//	mock.PutFunc = func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
//		// Verify the operation parameters
//		return &dynamodb.PutItemOutput{}, nil
//	}
//
//	db := dynamodel.NewTable("test-table").Connect(mock)
//	err := db.Save(ctx, model)
//
// # Document Builders
//
//	team := dynamock.NewDocument(TeamSchema,
//		dynamock.WithKey("team#1", "meta"),
//		dynamock.WithValue("name", "Platform"),
//	).Build()
//
// # Local DynamoDB
//
// Integration tests run against DynamoDB Local and are skipped when it is
// not reachable:
//
//	dynamock.WithDefaultLocalDynamoDB(t, func(local *dynamock.LocalDynamoDB) {
//		dynamock.WithIsolatedTable(t, local, newSchemas, func(db *dynamodel.DB) {
//			seeder := dynamock.NewSeeder(db)
//			n, err := seeder.SeedFromJSON(ctx, fixtures, UserSchema)
//		})
//	})
package dynamock
